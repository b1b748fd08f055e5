package publish

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/chartsync/internal/annotation"
	"github.com/dgnsrekt/chartsync/internal/session"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeConn struct {
	mu           sync.Mutex
	connected    bool
	err          error
	sent         []published
	disconnected bool
}

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{err: c.err}
}

func (c *fakeConn) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeConn) messages() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.sent...)
}

func shape(key string, system bool) session.ShapeView {
	return session.ShapeView{Annotation: annotation.Annotation{LocalKey: key, SystemManaged: system}}
}

func TestPublisherSkipsSystemShapesAndDuplicates(t *testing.T) {
	conn := &fakeConn{connected: true}
	p := NewPublisher(conn, "chartsync/")

	u := session.Update{Kind: session.UpdateShapes, Symbol: "AAPL", Shapes: []session.ShapeView{shape("k1", false), shape("sys:crosshair", true)}}
	p.Publish(u)
	u.Shapes = []session.ShapeView{shape("k1", false)}
	p.Publish(u)
	p.Publish(session.Update{Kind: session.UpdateStyles, Symbol: "AAPL"})
	p.Close()

	sent := conn.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "chartsync/AAPL/annotations", sent[0].topic)
	assert.True(t, sent[0].retained)

	var body annotationSet
	require.NoError(t, json.Unmarshal(sent[0].payload, &body))
	require.Len(t, body.Annotations, 1)
	assert.Equal(t, "k1", body.Annotations[0].LocalKey)
	assert.True(t, conn.disconnected)
}

func TestPublisherForwardsFailureNotifications(t *testing.T) {
	conn := &fakeConn{connected: true, err: errors.New("broker rejected")}
	p := NewPublisher(conn, "chartsync")

	p.Publish(session.Update{Kind: session.UpdateNotification, Symbol: "AAPL", Notification: &session.Notification{Level: "info", Op: "create"}})
	p.Publish(session.Update{Kind: session.UpdateNotification, Symbol: "AAPL", Notification: &session.Notification{Level: "error", Op: "delete", Message: "delete failed"}})
	p.Close()

	sent := conn.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "chartsync/AAPL/notifications", sent[0].topic)
	assert.False(t, sent[0].retained)

	var body notificationMessage
	require.NoError(t, json.Unmarshal(sent[0].payload, &body))
	assert.Equal(t, "delete", body.Op)
	assert.Equal(t, "AAPL", body.Symbol)
}

func TestPublisherDropsWhileDisconnected(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn, "chartsync")
	p.Publish(session.Update{Kind: session.UpdateShapes, Symbol: "AAPL", Shapes: []session.ShapeView{shape("k1", false)}})
	p.Close()
	p.Publish(session.Update{Kind: session.UpdateShapes, Symbol: "MSFT", Shapes: []session.ShapeView{shape("k2", false)}})

	assert.Empty(t, conn.messages())
}
