package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rewired-gh/crowdcast/internal/models"
)

var kst = time.FixedZone("KST", 9*60*60)

func sample() (models.LocationProfile, []models.CongestionRecord) {
	profile := models.LocationProfile{
		ID: "seoul-forest", Name: "서울숲공원", Category: models.CategoryPark,
		AreaM2: 480994, StayHours: 3, ScalingFactor: 100,
	}
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, kst)
	t1 := time.Date(2024, 4, 30, 9, 0, 0, 0, time.UTC)
	records := []models.CongestionRecord{
		{LocationID: profile.ID, Category: profile.Category, Date: date, Hour: 13, Label: models.LabelModerate, Population: 6000, UpdatedAt: t1},
		{LocationID: profile.ID, Category: profile.Category, Date: date, Hour: 14, Label: models.LabelCrowded, Population: 30000, UpdatedAt: t1.Add(time.Second)},
	}
	return profile, records
}

func TestNewMessage(t *testing.T) {
	profile, records := sample()

	msg := NewMessage(profile, records)

	assert.Equal(t, "seoul-forest", msg.LocationID)
	assert.Equal(t, "서울숲공원", msg.Name)
	assert.Equal(t, "park", msg.Category)
	assert.True(t, msg.GeneratedAt.Equal(records[1].UpdatedAt))
	require.Len(t, msg.Hours, 2)
	assert.Equal(t, HourMessage{Date: "2024-05-01", Hour: 14, Label: "crowded", LabelKo: "혼잡", Population: 30000}, msg.Hours[1])
}

type fakeRedis struct {
	published map[string][]byte
	cached    map[string][]byte
	ttl       time.Duration
	setErr    error
	closed    bool
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	f.published[channel] = message.([]byte)
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.setErr != nil {
		cmd.SetErr(f.setErr)
		return cmd
	}
	f.cached[key] = value.([]byte)
	f.ttl = expiration
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisPublish(t *testing.T) {
	fake := &fakeRedis{published: map[string][]byte{}, cached: map[string][]byte{}}
	r := newRedis(fake, "", "", 6*time.Hour)
	profile, records := sample()

	require.NoError(t, r.Publish(context.Background(), profile, records))

	assert.Equal(t, "crowdcast:congestion:seoul-forest", r.Key(profile.ID))
	assert.Equal(t, 6*time.Hour, fake.ttl)

	var msg Message
	require.NoError(t, json.Unmarshal(fake.published["crowdcast:congestion"], &msg))
	assert.Equal(t, "seoul-forest", msg.LocationID)
	assert.Len(t, msg.Hours, 2)
	assert.Equal(t, fake.published["crowdcast:congestion"], fake.cached["crowdcast:congestion:seoul-forest"])

	require.NoError(t, r.Close())
	assert.True(t, fake.closed)
}

func TestRedisPublishCacheError(t *testing.T) {
	fake := &fakeRedis{published: map[string][]byte{}, cached: map[string][]byte{}, setErr: errors.New("READONLY")}
	r := newRedis(fake, "labels", "labels", time.Hour)
	profile, records := sample()

	assert.Error(t, r.Publish(context.Background(), profile, records))
	assert.Empty(t, fake.published, "nothing should be published when caching fails")
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, completed bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if completed {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error { return t.err }

type fakeMQTT struct {
	topic        string
	qos          byte
	retained     bool
	payload      []byte
	token        *fakeToken
	connectToken *fakeToken
	disconnected bool
}

func (f *fakeMQTT) Connect() mqtt.Token {
	return f.connectToken
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.topic, f.qos, f.retained = topic, qos, retained
	f.payload = payload.([]byte)
	return f.token
}

func (f *fakeMQTT) Disconnect(quiesce uint) {
	f.disconnected = true
}

func TestMQTTPublish(t *testing.T) {
	fake := &fakeMQTT{token: newToken(nil, true)}
	m := newMQTT(fake, "seoul/congestion", 1, time.Second)
	profile, records := sample()

	require.NoError(t, m.Publish(context.Background(), profile, records))

	assert.Equal(t, "seoul/congestion/seoul-forest", fake.topic)
	assert.Equal(t, byte(1), fake.qos)
	assert.True(t, fake.retained)

	var msg Message
	require.NoError(t, json.Unmarshal(fake.payload, &msg))
	assert.Equal(t, "park", msg.Category)

	require.NoError(t, m.Close())
	assert.True(t, fake.disconnected)
}

func TestMQTTPublishErrors(t *testing.T) {
	profile, records := sample()

	failed := newMQTT(&fakeMQTT{token: newToken(errors.New("not authorized"), true)}, "", 0, time.Second)
	assert.Error(t, failed.Publish(context.Background(), profile, records))

	stuck := newMQTT(&fakeMQTT{token: newToken(nil, false)}, "", 0, 20*time.Millisecond)
	assert.Error(t, stuck.Publish(context.Background(), profile, records))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cancelled := newMQTT(&fakeMQTT{token: newToken(nil, false)}, "", 0, time.Minute)
	assert.Error(t, cancelled.Publish(ctx, profile, records))
}

func TestMQTTConnect(t *testing.T) {
	ok := &fakeMQTT{connectToken: newToken(nil, true)}
	require.NoError(t, connect(ok, "tcp://broker:1883", time.Second))
	assert.False(t, ok.disconnected)

	refused := &fakeMQTT{connectToken: newToken(errors.New("connection refused"), true)}
	assert.Error(t, connect(refused, "tcp://broker:1883", time.Second))
	assert.True(t, refused.disconnected, "failed connect must release the client")

	stuck := &fakeMQTT{connectToken: newToken(nil, false)}
	assert.Error(t, connect(stuck, "tcp://broker:1883", 20*time.Millisecond))
	assert.True(t, stuck.disconnected, "timed out connect must release the client")
}

type recordingPublisher struct {
	calls int
	err   error
}

func (p *recordingPublisher) Publish(context.Context, models.LocationProfile, []models.CongestionRecord) error {
	p.calls++
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestMultiTriesAll(t *testing.T) {
	a := &recordingPublisher{err: errors.New("down")}
	b := &recordingPublisher{}
	profile, records := sample()

	err := Multi{a, b}.Publish(context.Background(), profile, records)

	assert.EqualError(t, err, "down")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.NoError(t, Multi{a, b}.Close())
}
