package events

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/avasiliev/tokenguard/internal/logger"
	"github.com/avasiliev/tokenguard/internal/models"
)

func Test_Recorder(t *testing.T) {
	t.Parallel()

	r := &Recorder{}
	event := Event{
		At:       time.Now(),
		Severity: SeverityCritical,
		UserID:   uuid.New(),
		Family:   uuid.New(),
		Reason:   models.ReasonTheftDetected,
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Emit(t.Context(), event)
		}()
	}
	wg.Wait()

	require.Len(t, r.Events(), 10)
}

func Test_LogSink(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(logger.NewNoOp())

	// Both severities route without panicking
	sink.Emit(t.Context(), Event{Severity: SeverityInfo})
	sink.Emit(t.Context(), Event{Severity: SeverityCritical})
}
