package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"

	"github.com/cabinetdz/cabinet-platform/internal/patients"
	"github.com/cabinetdz/cabinet-platform/internal/portal"
	"github.com/cabinetdz/cabinet-platform/internal/visits"
)

type portalRecorder struct {
	updates map[string]portal.BookingUpdate
	srv     *httptest.Server
}

func newPortalRecorder(t *testing.T) *portalRecorder {
	t.Helper()
	rec := &portalRecorder{updates: map[string]portal.BookingUpdate{}}
	rec.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/bookings" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`[]`))
		case strings.HasPrefix(r.URL.Path, "/api/bookings/") && r.Method == http.MethodPut:
			id := strings.TrimPrefix(r.URL.Path, "/api/bookings/")
			var update portal.BookingUpdate
			_ = json.NewDecoder(r.Body).Decode(&update)
			rec.updates[id] = update
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(rec.srv.Close)
	return rec
}

func (p *portalRecorder) update(id string) (portal.BookingUpdate, bool) {
	u, ok := p.updates[id]
	return u, ok
}

func newTestHandler(t *testing.T, portalURL string, lock *Lock) (pgxmock.PgxPoolIface, http.Handler) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	store := visits.NewStore(mock)
	patientStore := patients.NewStore(mock)
	guard := visits.NewGuard(store, visits.DefaultDailyCap)
	service := visits.NewService(store, patientStore, guard, visits.NewQueue(store, nil, nil), nil, nil)
	client := portal.NewClient(portalURL, time.Second, nil)
	engine := NewEngine(store, patientStore, guard, client, &fakeSource{}, nil, nil)
	if lock == nil {
		lock = NewLock(nil, 0)
	}
	h := NewHandler(engine, lock, service, patientStore, nil)

	r := chi.NewRouter()
	r.Get("/api/sync", h.Status)
	r.Post("/api/sync", h.Trigger)
	r.Post("/api/sync/bookings", h.InboundBookings)
	r.Post("/api/bookings/create", h.CreateBooking)
	r.Get("/api/reservations", h.ListReservations)
	r.Route("/api/reservations/{id}", func(r chi.Router) {
		r.Get("/", h.GetReservation)
		r.Put("/", h.UpdateReservation)
		r.Delete("/", h.DeleteReservation)
		r.Post("/approve", h.ApproveReservation)
	})
	return mock, r
}

func expectVisitByID(mock pgxmock.PgxPoolIface, v *visits.Visit) {
	mock.ExpectQuery(`SELECT .+ FROM visits WHERE id`).
		WithArgs(v.ID).
		WillReturnRows(visitRow(v))
}

func TestApproveReservation(t *testing.T) {
	rec := newPortalRecorder(t)
	mock, router := newTestHandler(t, rec.srv.URL, nil)
	marker := "bk_5"
	day := visits.Day(time.Now().AddDate(0, 0, 1))
	v := &visits.Visit{
		ID:                uuid.New(),
		PatientID:         uuid.New(),
		Date:              day,
		Status:            visits.StatusPending,
		Specialty:         visits.SpecialtySoin,
		ExternalBookingID: &marker,
	}

	expectVisitByID(mock, v)
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs(day, visits.StatusCancelled, visits.StatusMissed).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectQuery(`SELECT .+ FROM visits\s+WHERE date::date = .+ AND patient_id`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(visitRow(nil))
	mock.ExpectExec(`UPDATE visits SET status`).
		WithArgs(v.ID, visits.StatusScheduled, 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	req := httptest.NewRequest(http.MethodPost, "/api/reservations/"+v.ID.String()+"/approve", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var got visits.Visit
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != visits.StatusScheduled {
		t.Fatalf("expected SCHEDULED, got %s", got.Status)
	}
	if u, ok := rec.update(marker); !ok || u.Status != portal.BookingStatusApproved {
		t.Fatalf("expected APPROVED propagated to portal, got %+v ok=%v", u, ok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestApproveRejectsNonPending(t *testing.T) {
	rec := newPortalRecorder(t)
	mock, router := newTestHandler(t, rec.srv.URL, nil)
	v := &visits.Visit{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		Date:      visits.Day(time.Now()),
		Status:    visits.StatusWaiting,
		Specialty: visits.SpecialtySoin,
	}
	expectVisitByID(mock, v)

	req := httptest.NewRequest(http.MethodPost, "/api/reservations/"+v.ID.String()+"/approve", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var resp errorResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Reason != "illegal-transition" {
		t.Fatalf("expected illegal-transition, got %q", resp.Reason)
	}
}

func TestApproveFullDayRejected(t *testing.T) {
	rec := newPortalRecorder(t)
	mock, router := newTestHandler(t, rec.srv.URL, nil)
	day := visits.Day(time.Now().AddDate(0, 0, 1))
	v := &visits.Visit{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		Date:      day,
		Status:    visits.StatusPending,
		Specialty: visits.SpecialtySoin,
	}
	expectVisitByID(mock, v)
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs(day, visits.StatusCancelled, visits.StatusMissed).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(visits.DefaultDailyCap))

	req := httptest.NewRequest(http.MethodPost, "/api/reservations/"+v.ID.String()+"/approve", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var resp errorResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Reason != "capacity-exceeded" {
		t.Fatalf("expected capacity-exceeded, got %q", resp.Reason)
	}
}

func TestDeleteReservationPropagatesReject(t *testing.T) {
	rec := newPortalRecorder(t)
	mock, router := newTestHandler(t, rec.srv.URL, nil)
	marker := "bk_9"
	v := &visits.Visit{
		ID:                uuid.New(),
		PatientID:         uuid.New(),
		Date:              visits.Day(time.Now().AddDate(0, 0, 1)),
		Status:            visits.StatusPending,
		Specialty:         visits.SpecialtySoin,
		ExternalBookingID: &marker,
	}
	expectVisitByID(mock, v)
	mock.ExpectExec(`DELETE FROM payments`).
		WithArgs(v.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM visits`).
		WithArgs(v.ID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	req := httptest.NewRequest(http.MethodDelete, "/api/reservations/"+v.ID.String(), nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if u, ok := rec.update(marker); !ok || u.Status != portal.BookingStatusRejected {
		t.Fatalf("expected REJECTED propagated to portal, got %+v ok=%v", u, ok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	rec := newPortalRecorder(t)
	_, router := newTestHandler(t, rec.srv.URL, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/bookings/create",
		strings.NewReader(`{"specialty":"Soin","date":"2025-03-10"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCreateBookingLandsPending(t *testing.T) {
	rec := newPortalRecorder(t)
	mock, router := newTestHandler(t, rec.srv.URL, nil)
	patient := &patients.Patient{ID: uuid.New(), FirstName: "Ali", LastName: "Ben", Phone: "0550123456"}
	day := visits.Day(time.Now().AddDate(0, 0, 2))

	expectPatientByPhone(mock, patient)
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs(day, visits.StatusCancelled, visits.StatusMissed).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT .+ FROM visits\s+WHERE date::date = .+ AND patient_id`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(visitRow(nil))
	mock.ExpectQuery(`INSERT INTO visits`).
		WithArgs(pgxmock.AnyArg(), patient.ID, day, visits.StatusPending, 0,
			visits.SpecialtySoin, "", 0.0, "premiere visite", (*string)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))

	body := `{"firstName":"Ali","lastName":"Ben","phone":"0550123456","specialty":"Soin","date":"` +
		day.Format("2006-01-02") + `","notes":"premiere visite"}`
	req := httptest.NewRequest(http.MethodPost, "/api/bookings/create", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var got visits.Visit
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != visits.StatusPending {
		t.Fatalf("expected PENDING, got %s", got.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTriggerRefusedWhileAnotherCycleRuns(t *testing.T) {
	rec := newPortalRecorder(t)
	srv := miniredis.RunT(t)
	holder := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = holder.Close() })
	held := NewLock(holder, time.Minute)
	if _, ok, _ := held.Acquire(context.Background()); !ok {
		t.Fatal("pre-acquire failed")
	}

	contender := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = contender.Close() })
	_, router := newTestHandler(t, rec.srv.URL, NewLock(contender, time.Minute))

	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp errorResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Reason != "sync-in-progress" {
		t.Fatalf("expected sync-in-progress, got %q", resp.Reason)
	}
}

func TestStatusRejectsBadPortalHeader(t *testing.T) {
	rec := newPortalRecorder(t)
	_, router := newTestHandler(t, rec.srv.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sync", nil)
	req.Header.Set(portalURLHeader, "not a url")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestStatusReportsConnectivity(t *testing.T) {
	rec := newPortalRecorder(t)
	_, router := newTestHandler(t, rec.srv.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sync", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Connected bool   `json:"connected"`
		PortalURL string `json:"portalUrl"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Connected || resp.PortalURL != rec.srv.URL {
		t.Fatalf("unexpected status: %+v", resp)
	}
}
