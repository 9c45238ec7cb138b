package testutil

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTestUUID_Deterministic(t *testing.T) {
	assert.Equal(t, NewTestUUID("order-1"), NewTestUUID("order-1"))
	assert.NotEqual(t, NewTestUUID("order-1"), NewTestUUID("order-2"))
}

func TestNewSQLiteDB_Isolated(t *testing.T) {
	a := NewSQLiteDB(t)
	b := NewSQLiteDB(t)

	require.NoError(t, a.Exec("INSERT INTO order_events (id, order_id, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		NewTestUUID("e1"), NewTestUUID("o1"), "StatusChanged:Accepted", "{}", time.Now().UTC()).Error)

	var countA, countB int64
	require.NoError(t, a.Table("order_events").Count(&countA).Error)
	require.NoError(t, b.Table("order_events").Count(&countB).Error)
	assert.Equal(t, int64(1), countA)
	assert.Equal(t, int64(0), countB)
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	ch := clock.After(5 * time.Second)
	assert.Equal(t, 1, clock.Waiters())

	clock.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	clock.Advance(time.Second)
	select {
	case at := <-ch:
		assert.Equal(t, start.Add(5*time.Second), at)
	default:
		t.Fatal("did not fire")
	}
	assert.Equal(t, 0, clock.Waiters())

	immediate := clock.After(0)
	assert.Equal(t, clock.Now(), <-immediate)
}

func TestPerformRequest(t *testing.T) {
	engine := gin.New()
	engine.POST("/echo", func(c *gin.Context) {
		var body map[string]interface{}
		_ = c.ShouldBindJSON(&body)
		body["header"] = c.GetHeader("X-Test")
		c.JSON(http.StatusCreated, body)
	})

	rec := PerformRequest(t, engine, http.MethodPost, "/echo", map[string]interface{}{"a": "b"}, map[string]string{"X-Test": "yes"})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := DecodeJSON(t, rec)
	assert.Equal(t, "b", body["a"])
	assert.Equal(t, "yes", body["header"])
}
