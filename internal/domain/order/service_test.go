package order

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/labcore/labcore/internal/domain/catalog"
	"github.com/labcore/labcore/internal/platform/db"
	"github.com/labcore/labcore/internal/platform/laberr"
)

// -- Mock Repositories --

type mockOrderRepo struct {
	orders map[uuid.UUID]*LabOrder
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[uuid.UUID]*LabOrder)}
}

func (m *mockOrderRepo) Create(_ context.Context, o *LabOrder) error {
	for _, existing := range m.orders {
		if existing.OrderNumber == o.OrderNumber {
			return laberr.Duplicate("lab order", o.OrderNumber)
		}
	}
	o.ID = uuid.New()
	o.VersionID = 1
	o.CreatedAt = time.Now()
	o.UpdatedAt = time.Now()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*LabOrder, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, laberr.NotFound("lab order", id)
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) GetByNumber(_ context.Context, orderNumber string) (*LabOrder, error) {
	for _, o := range m.orders {
		if o.OrderNumber == orderNumber {
			cp := *o
			return &cp, nil
		}
	}
	return nil, laberr.NotFound("lab order", orderNumber)
}

func (m *mockOrderRepo) Update(_ context.Context, o *LabOrder) error {
	stored, ok := m.orders[o.ID]
	if !ok {
		return laberr.NotFound("lab order", o.ID)
	}
	if stored.VersionID != o.VersionID {
		return laberr.Conflict("lab order", o.ID)
	}
	o.VersionID++
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) ListByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]*LabOrder, int, error) {
	var result []*LabOrder
	for _, o := range m.orders {
		if o.PatientID == patientID {
			result = append(result, o)
		}
	}
	return result, len(result), nil
}

type mockItemRepo struct {
	items map[uuid.UUID]*LabOrderItem
}

func newMockItemRepo() *mockItemRepo {
	return &mockItemRepo{items: make(map[uuid.UUID]*LabOrderItem)}
}

func (m *mockItemRepo) Create(_ context.Context, item *LabOrderItem) error {
	item.ID = uuid.New()
	item.CreatedAt = time.Now()
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *mockItemRepo) GetByID(_ context.Context, id uuid.UUID) (*LabOrderItem, error) {
	it, ok := m.items[id]
	if !ok {
		return nil, laberr.NotFound("lab order item", id)
	}
	cp := *it
	return &cp, nil
}

func (m *mockItemRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*LabOrderItem, error) {
	var result []*LabOrderItem
	for _, it := range m.items {
		if it.OrderID == orderID {
			cp := *it
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockItemRepo) Update(_ context.Context, item *LabOrderItem) error {
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

type mockHistoryRepo struct {
	records []*StatusHistory
}

func (m *mockHistoryRepo) Create(_ context.Context, h *StatusHistory) error {
	h.ID = uuid.New()
	cp := *h
	m.records = append(m.records, &cp)
	return nil
}

func (m *mockHistoryRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*StatusHistory, error) {
	var result []*StatusHistory
	for _, h := range m.records {
		if h.OrderID == orderID {
			result = append(result, h)
		}
	}
	return result, nil
}

type mockTestRepo struct {
	tests  map[uuid.UUID]*catalog.LabTest
	params map[uuid.UUID][]*catalog.LabTestParameter
}

func newMockTestRepo() *mockTestRepo {
	return &mockTestRepo{
		tests:  make(map[uuid.UUID]*catalog.LabTest),
		params: make(map[uuid.UUID][]*catalog.LabTestParameter),
	}
}

func (m *mockTestRepo) addTest(code string, price float64) *catalog.LabTest {
	t := &catalog.LabTest{ID: uuid.New(), Code: code, Name: code, SpecimenType: "SERUM", Price: price, IsActive: true}
	m.tests[t.ID] = t
	return t
}

func (m *mockTestRepo) GetByID(_ context.Context, id uuid.UUID) (*catalog.LabTest, error) {
	t, ok := m.tests[id]
	if !ok {
		return nil, laberr.NotFound("lab test", id)
	}
	return t, nil
}

func (m *mockTestRepo) GetByCode(_ context.Context, code string) (*catalog.LabTest, error) {
	for _, t := range m.tests {
		if t.Code == code {
			return t, nil
		}
	}
	return nil, laberr.NotFound("lab test", code)
}

func (m *mockTestRepo) ListParameters(_ context.Context, testID uuid.UUID) ([]*catalog.LabTestParameter, error) {
	return m.params[testID], nil
}

func (m *mockTestRepo) GetParameter(_ context.Context, id uuid.UUID) (*catalog.LabTestParameter, error) {
	for _, list := range m.params {
		for _, p := range list {
			if p.ID == id {
				return p, nil
			}
		}
	}
	return nil, laberr.NotFound("lab test parameter", id)
}

type mockPanelRepo struct {
	panels map[uuid.UUID]*catalog.LabPanel
	tests  map[uuid.UUID][]uuid.UUID
}

func newMockPanelRepo() *mockPanelRepo {
	return &mockPanelRepo{
		panels: make(map[uuid.UUID]*catalog.LabPanel),
		tests:  make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *mockPanelRepo) addPanel(code string, testIDs ...uuid.UUID) *catalog.LabPanel {
	p := &catalog.LabPanel{ID: uuid.New(), Code: code, Name: code, IsActive: true}
	m.panels[p.ID] = p
	m.tests[p.ID] = testIDs
	return p
}

func (m *mockPanelRepo) GetByID(_ context.Context, id uuid.UUID) (*catalog.LabPanel, error) {
	p, ok := m.panels[id]
	if !ok {
		return nil, laberr.NotFound("lab panel", id)
	}
	return p, nil
}

func (m *mockPanelRepo) TestIDs(_ context.Context, panelID uuid.UUID) ([]uuid.UUID, error) {
	return m.tests[panelID], nil
}

type mockSeq struct{ n int64 }

func (m *mockSeq) Next(_ context.Context, _ string) (int64, error) {
	m.n++
	return m.n, nil
}

type testEnv struct {
	svc     *Service
	orders  *mockOrderRepo
	items   *mockItemRepo
	history *mockHistoryRepo
	tests   *mockTestRepo
	panels  *mockPanelRepo
}

func newTestEnv() *testEnv {
	env := &testEnv{
		orders:  newMockOrderRepo(),
		items:   newMockItemRepo(),
		history: &mockHistoryRepo{},
		tests:   newMockTestRepo(),
		panels:  newMockPanelRepo(),
	}
	env.svc = NewService(env.orders, env.items, env.history, env.tests, env.panels, &mockSeq{}, db.PassthroughRunner())
	return env
}

// -- Tests --

func TestCreateOrderExpandsPanels(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	glucose := env.tests.addTest("GLU", 15)
	sodium := env.tests.addTest("NA", 10)
	potassium := env.tests.addTest("K", 10)
	chloride := env.tests.addTest("CL", 10)
	bmp := env.panels.addPanel("BMP", sodium.ID, potassium.ID, chloride.ID)

	o := &LabOrder{PatientID: uuid.New(), OrderingDoctorID: uuid.New()}
	if err := env.svc.CreateOrder(ctx, o, []uuid.UUID{glucose.ID}, []uuid.UUID{bmp.ID}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if o.Status != StatusPending {
		t.Errorf("expected status PENDING, got %s", o.Status)
	}
	if !strings.HasPrefix(o.OrderNumber, "LO") || len(o.OrderNumber) != 16 {
		t.Errorf("unexpected order number layout %q", o.OrderNumber)
	}

	items, err := env.svc.ListItems(ctx, o.ID)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("expected 4 items (1 direct + 3 panel), got %d", len(items))
	}
	panelItems := 0
	for _, it := range items {
		if it.Status != ItemPending {
			t.Errorf("expected item status PENDING, got %s", it.Status)
		}
		if it.PanelID != nil {
			panelItems++
		}
		if it.TestID == glucose.ID && it.Price != 15 {
			t.Errorf("expected snapshotted price 15, got %g", it.Price)
		}
	}
	if panelItems != 3 {
		t.Errorf("expected 3 panel-expanded items, got %d", panelItems)
	}

	history, _ := env.svc.GetStatusHistory(ctx, o.ID)
	if len(history) != 1 || history[0].ToStatus != StatusPending {
		t.Errorf("expected single creation history record, got %+v", history)
	}
}

func TestCreateOrderRequiresTests(t *testing.T) {
	env := newTestEnv()
	o := &LabOrder{PatientID: uuid.New(), OrderingDoctorID: uuid.New()}
	err := env.svc.CreateOrder(context.Background(), o, nil, nil)
	if !errors.Is(err, laberr.ErrPreconditionFailed) {
		t.Errorf("expected precondition error, got %v", err)
	}
}

func TestCreateOrderRejectsInactiveTest(t *testing.T) {
	env := newTestEnv()
	inactive := env.tests.addTest("OLD", 5)
	inactive.IsActive = false

	o := &LabOrder{PatientID: uuid.New(), OrderingDoctorID: uuid.New()}
	err := env.svc.CreateOrder(context.Background(), o, []uuid.UUID{inactive.ID}, nil)
	if !errors.Is(err, laberr.ErrPreconditionFailed) {
		t.Errorf("expected precondition error for inactive test, got %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	all := []string{StatusPending, StatusScheduled, StatusCollected, StatusReceived,
		StatusInProgress, StatusCompleted, StatusCancelled}
	allowed := map[string]bool{
		"PENDING>SCHEDULED": true, "PENDING>COLLECTED": true, "PENDING>CANCELLED": true,
		"SCHEDULED>COLLECTED": true, "SCHEDULED>CANCELLED": true,
		"COLLECTED>RECEIVED": true, "COLLECTED>CANCELLED": true,
		"RECEIVED>IN_PROGRESS": true, "RECEIVED>CANCELLED": true,
		"IN_PROGRESS>COMPLETED": true, "IN_PROGRESS>CANCELLED": true,
	}
	for _, from := range all {
		for _, to := range all {
			err := ValidateTransition(from, to)
			if allowed[from+">"+to] {
				if err != nil {
					t.Errorf("%s -> %s should be allowed: %v", from, to, err)
				}
			} else if err == nil {
				t.Errorf("%s -> %s should be rejected", from, to)
			}
		}
	}
}

func TestUpdateOrderStatusStampsAndRecords(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	glucose := env.tests.addTest("GLU", 15)

	o := &LabOrder{PatientID: uuid.New(), OrderingDoctorID: uuid.New()}
	if err := env.svc.CreateOrder(ctx, o, []uuid.UUID{glucose.ID}, nil); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if err := env.svc.UpdateOrderStatus(ctx, o.ID, StatusScheduled, "tech-1", "phlebotomy scheduled"); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}

	got, _ := env.svc.GetOrder(ctx, o.ID)
	if got.Status != StatusScheduled {
		t.Errorf("expected SCHEDULED, got %s", got.Status)
	}
	if got.ApprovedAt == nil {
		t.Error("expected ApprovedAt to be stamped on SCHEDULED")
	}

	history, _ := env.svc.GetStatusHistory(ctx, o.ID)
	if len(history) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(history))
	}
	last := history[len(history)-1]
	if last.FromStatus != StatusPending || last.ToStatus != StatusScheduled || last.ChangedBy != "tech-1" {
		t.Errorf("unexpected history record %+v", last)
	}
}

func TestUpdateOrderStatusInvalidEdgeNoMutation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	glucose := env.tests.addTest("GLU", 15)

	o := &LabOrder{PatientID: uuid.New(), OrderingDoctorID: uuid.New()}
	if err := env.svc.CreateOrder(ctx, o, []uuid.UUID{glucose.ID}, nil); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	err := env.svc.UpdateOrderStatus(ctx, o.ID, StatusCompleted, "tech-1", "")
	if !errors.Is(err, laberr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	got, _ := env.svc.GetOrder(ctx, o.ID)
	if got.Status != StatusPending {
		t.Errorf("status mutated on rejected transition: %s", got.Status)
	}
	history, _ := env.svc.GetStatusHistory(ctx, o.ID)
	if len(history) != 1 {
		t.Errorf("history written on rejected transition: %d records", len(history))
	}
}

func TestUpdateOrderStatusSameStateRejected(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	glucose := env.tests.addTest("GLU", 15)

	o := &LabOrder{PatientID: uuid.New(), OrderingDoctorID: uuid.New()}
	if err := env.svc.CreateOrder(ctx, o, []uuid.UUID{glucose.ID}, nil); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if err := env.svc.UpdateOrderStatus(ctx, o.ID, StatusPending, "tech-1", ""); !errors.Is(err, laberr.ErrInvalidTransition) {
		t.Errorf("expected repeat-state transition to fail, got %v", err)
	}
}

func TestCancelOrderRefusesTerminal(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	glucose := env.tests.addTest("GLU", 15)

	o := &LabOrder{PatientID: uuid.New(), OrderingDoctorID: uuid.New()}
	if err := env.svc.CreateOrder(ctx, o, []uuid.UUID{glucose.ID}, nil); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if err := env.svc.CancelOrder(ctx, o.ID, "doc-1", "duplicate order"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	got, _ := env.svc.GetOrder(ctx, o.ID)
	if got.Status != StatusCancelled || got.CancelledAt == nil {
		t.Errorf("expected cancelled with timestamp, got %+v", got)
	}

	if err := env.svc.CancelOrder(ctx, o.ID, "doc-1", "again"); !errors.Is(err, laberr.ErrInvalidTransition) {
		t.Errorf("expected cancel of cancelled order to fail, got %v", err)
	}
}

func TestCreateRecurringOrder(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	glucose := env.tests.addTest("GLU", 15)

	pattern := "WEEKLY"
	end := time.Now().AddDate(0, 3, 0)
	parent := &LabOrder{
		PatientID: uuid.New(), OrderingDoctorID: uuid.New(),
		IsRecurring: true, RecurrencePattern: &pattern, RecurrenceEndDate: &end,
	}
	if err := env.svc.CreateOrder(ctx, parent, []uuid.UUID{glucose.ID}, nil); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	// Catalog price changed after the parent was placed.
	glucose.Price = 20

	next := time.Now().AddDate(0, 0, 7)
	child, err := env.svc.CreateRecurringOrder(ctx, parent.ID, next)
	if err != nil {
		t.Fatalf("CreateRecurringOrder: %v", err)
	}
	if child.ParentOrderID == nil || *child.ParentOrderID != parent.ID {
		t.Error("expected child to reference parent order")
	}
	if child.Status != StatusPending {
		t.Errorf("expected PENDING child, got %s", child.Status)
	}
	if child.OrderNumber == parent.OrderNumber {
		t.Error("child must get a fresh order number")
	}

	items, _ := env.svc.ListItems(ctx, child.ID)
	if len(items) != 1 {
		t.Fatalf("expected 1 cloned item, got %d", len(items))
	}
	if items[0].Price != 20 {
		t.Errorf("expected re-snapshotted price 20, got %g", items[0].Price)
	}
}

func TestCreateRecurringOrderPreconditions(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	glucose := env.tests.addTest("GLU", 15)

	parent := &LabOrder{PatientID: uuid.New(), OrderingDoctorID: uuid.New()}
	if err := env.svc.CreateOrder(ctx, parent, []uuid.UUID{glucose.ID}, nil); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := env.svc.CreateRecurringOrder(ctx, parent.ID, time.Now()); !errors.Is(err, laberr.ErrPreconditionFailed) {
		t.Errorf("expected precondition error for non-recurring parent, got %v", err)
	}

	end := time.Now().AddDate(0, 0, 1)
	recurring := &LabOrder{
		PatientID: uuid.New(), OrderingDoctorID: uuid.New(),
		IsRecurring: true, RecurrenceEndDate: &end,
	}
	if err := env.svc.CreateOrder(ctx, recurring, []uuid.UUID{glucose.ID}, nil); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := env.svc.CreateRecurringOrder(ctx, recurring.ID, time.Now().AddDate(0, 0, 30)); !errors.Is(err, laberr.ErrPreconditionFailed) {
		t.Errorf("expected precondition error past recurrence end, got %v", err)
	}
}

type recordingCompletionListener struct {
	items []uuid.UUID
}

func (r *recordingCompletionListener) OrderItemCompleted(_ context.Context, item *LabOrderItem) error {
	r.items = append(r.items, item.ID)
	return nil
}

func TestCompleteItemCompletesOrder(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	glucose := env.tests.addTest("GLU", 15)
	sodium := env.tests.addTest("NA", 10)

	listener := &recordingCompletionListener{}
	env.svc.AddCompletionListener(listener)

	o := &LabOrder{PatientID: uuid.New(), OrderingDoctorID: uuid.New()}
	if err := env.svc.CreateOrder(ctx, o, []uuid.UUID{glucose.ID, sodium.ID}, nil); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	for _, status := range []string{StatusCollected, StatusReceived, StatusInProgress} {
		if err := env.svc.UpdateOrderStatus(ctx, o.ID, status, "tech-1", ""); err != nil {
			t.Fatalf("UpdateOrderStatus(%s): %v", status, err)
		}
	}

	items, _ := env.svc.ListItems(ctx, o.ID)
	if err := env.svc.CompleteItem(ctx, items[0].ID, "tech-1"); err != nil {
		t.Fatalf("CompleteItem: %v", err)
	}
	got, _ := env.svc.GetOrder(ctx, o.ID)
	if got.Status != StatusInProgress {
		t.Errorf("order completed with one item outstanding: %s", got.Status)
	}

	if err := env.svc.CompleteItem(ctx, items[1].ID, "tech-1"); err != nil {
		t.Fatalf("CompleteItem: %v", err)
	}
	got, _ = env.svc.GetOrder(ctx, o.ID)
	if got.Status != StatusCompleted || got.CompletedAt == nil {
		t.Errorf("expected COMPLETED order with timestamp, got %s", got.Status)
	}
	if len(listener.items) != 2 {
		t.Errorf("expected 2 completion signals, got %d", len(listener.items))
	}
}
