package scaler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamscaler/pkg/config"
	"streamscaler/pkg/interfaces"
)

// fakeWatchService records alarm definitions, states and tags in memory.
type fakeWatchService struct {
	mu     sync.Mutex
	alarms map[string]*interfaces.AlarmDefinition
	states map[string]interfaces.AlarmState
	tags   map[string]map[string]string

	putCalls int
	tagCalls int
}

func newFakeWatchService() *fakeWatchService {
	return &fakeWatchService{
		alarms: make(map[string]*interfaces.AlarmDefinition),
		states: make(map[string]interfaces.AlarmState),
		tags:   make(map[string]map[string]string),
	}
}

func (f *fakeWatchService) PutAlarm(_ context.Context, def *interfaces.AlarmDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alarms[def.Name] = def
	f.putCalls++
	return nil
}

func (f *fakeWatchService) SetAlarmState(_ context.Context, name string, state interfaces.AlarmState, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[name] = state
	return nil
}

func (f *fakeWatchService) AlarmARN(_ context.Context, name string) (string, error) {
	return "arn:fake:alarm:" + name, nil
}

func (f *fakeWatchService) ListTags(_ context.Context, arn string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for k, v := range f.tags[arn] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeWatchService) TagResource(_ context.Context, arn string, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tags[arn] == nil {
		f.tags[arn] = make(map[string]string)
	}
	for k, v := range tags {
		f.tags[arn][k] = v
	}
	f.tagCalls++
	return nil
}

func reconcilerTestConfig() *config.ScalerConfig {
	cfg := config.DefaultScalerConfig()
	return &cfg
}

func TestReconcile_RewritesCapacityConstant(t *testing.T) {
	watch := newFakeWatchService()
	rec := NewReconciler(reconcilerTestConfig(), watch)

	changedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	err := rec.Reconcile(context.Background(), "orders", 4, DirectionUp, changedAt, "")
	require.NoError(t, err)

	up := watch.alarms[UpAlarmName("orders")]
	require.NotNil(t, up)
	down := watch.alarms[DownAlarmName("orders")]
	require.NotNil(t, down)

	// The shard-count constant embedded in the ratio expressions must be
	// the new count on both alarms.
	for _, def := range []*interfaces.AlarmDefinition{up, down} {
		bytesExpr := exprByID(t, def, "e1")
		assert.True(t, strings.HasSuffix(bytesExpr, "*4)"),
			"capacity constant in %s should be 4, got %s", def.Name, bytesExpr)
	}

	assert.Equal(t, interfaces.AlarmStateInsufficientData, watch.states[up.Name])
	assert.Equal(t, interfaces.AlarmStateInsufficientData, watch.states[down.Name])
}

func TestReconcile_WritesBookkeepingTags(t *testing.T) {
	watch := newFakeWatchService()
	rec := NewReconciler(reconcilerTestConfig(), watch)

	changedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, rec.Reconcile(context.Background(), "orders", 4, DirectionUp, changedAt, ""))

	upARN := "arn:fake:alarm:" + UpAlarmName("orders")
	downARN := "arn:fake:alarm:" + DownAlarmName("orders")

	assert.Equal(t, "2024-06-01T12:00:00Z", watch.tags[upARN][TagLastChangedAt])
	assert.Equal(t, "up", watch.tags[upARN][TagLastDirection])
	assert.Equal(t, DownAlarmName("orders"), watch.tags[upARN][TagSibling])
	assert.Equal(t, UpAlarmName("orders"), watch.tags[downARN][TagSibling])
}

func TestReconcile_IsIdempotent(t *testing.T) {
	watch := newFakeWatchService()
	rec := NewReconciler(reconcilerTestConfig(), watch)

	changedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, rec.Reconcile(context.Background(), "orders", 4, DirectionUp, changedAt, ""))

	first := *watch.alarms[UpAlarmName("orders")]

	// Re-running with the same target and its own anchor as the expected
	// previous value must produce identical definitions.
	require.NoError(t, rec.Reconcile(context.Background(), "orders", 4, DirectionUp, changedAt,
		changedAt.UTC().Format(time.RFC3339)))

	assert.Equal(t, first, *watch.alarms[UpAlarmName("orders")])
}

func TestReconcile_DetectsAnchorConflict(t *testing.T) {
	watch := newFakeWatchService()
	rec := NewReconciler(reconcilerTestConfig(), watch)

	// Another invocation already advanced the anchor.
	upARN := "arn:fake:alarm:" + UpAlarmName("orders")
	watch.tags[upARN] = map[string]string{TagLastChangedAt: "2024-06-01T11:59:00Z"}

	err := rec.Reconcile(context.Background(), "orders", 4, DirectionUp,
		time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), "2024-06-01T11:00:00Z")
	assert.ErrorIs(t, err, ErrAnchorConflict)
}

func TestDownAlarm_DisabledAtMinimumShards(t *testing.T) {
	rec := NewReconciler(reconcilerTestConfig(), newFakeWatchService())

	down := rec.DownAlarm("orders", 1)
	assert.Equal(t, float64(-1), down.Threshold,
		"at one shard the scale-down alarm must never fire")

	down = rec.DownAlarm("orders", 2)
	assert.Equal(t, 0.25, down.Threshold)
}

func TestDownAlarm_IncludesLagTermWhenEnabled(t *testing.T) {
	cfg := reconcilerTestConfig()
	cfg.MinLagMinutesToBlock = 10
	rec := NewReconciler(cfg, newFakeWatchService())

	down := rec.DownAlarm("orders", 4)
	usage := exprByID(t, down, "usage")
	assert.Contains(t, usage, "e3")

	up := rec.UpAlarm("orders", 4)
	usage = exprByID(t, up, "usage")
	assert.NotContains(t, usage, "e3", "the lag term only gates scale-down")
}

func TestLoadPair_RoundTripsBookkeeping(t *testing.T) {
	watch := newFakeWatchService()
	rec := NewReconciler(reconcilerTestConfig(), watch)

	changedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, rec.Reconcile(context.Background(), "orders", 4, DirectionUp, changedAt, ""))

	pair, err := rec.LoadPair(context.Background(), "orders")
	require.NoError(t, err)

	assert.Equal(t, UpAlarmName("orders"), pair.UpAlarm)
	assert.Equal(t, DownAlarmName("orders"), pair.DownAlarm)
	assert.True(t, pair.LastChangedAt.Equal(changedAt))
	assert.Equal(t, DirectionUp, pair.LastDirection)
}

func exprByID(t *testing.T, def *interfaces.AlarmDefinition, id string) string {
	t.Helper()
	for _, q := range def.Queries {
		if q.ID == id {
			return q.Expression
		}
	}
	t.Fatalf("alarm %s has no query %s", def.Name, id)
	return ""
}
