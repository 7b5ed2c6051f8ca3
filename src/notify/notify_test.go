package notify

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogNotifierWritesEvent(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	LogNotifier{}.Notify(context.Background(), 3, EventPositionClosed, map[string]interface{}{"market": "KRW-ETH"})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, uint(3), entry.Data["user_id"])
	assert.Equal(t, EventPositionClosed, entry.Data["event"])
}

type recordingNotifier struct {
	events []string
}

func (r *recordingNotifier) Notify(_ context.Context, _ uint, event string, _ map[string]interface{}) {
	r.events = append(r.events, event)
}

func TestMultiFansOutAndSkipsNil(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	m := Multi{a, nil, b}

	m.Notify(context.Background(), 1, EventOrphanFill, nil)
	m.Wait()

	assert.Equal(t, []string{EventOrphanFill}, a.events)
	assert.Equal(t, []string{EventOrphanFill}, b.events)
}

func TestFromConfig(t *testing.T) {
	_, ok := FromConfig(Config{}).(LogNotifier)
	assert.True(t, ok)

	multi, ok := FromConfig(Config{WebhookURL: "http://127.0.0.1:1"}).(Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
}
