package health

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/Krimson/holter-monitory/device/internal/orchestrator"
)

func check(t *testing.T, h *HealthServer, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	return resp.Status
}

func TestHealthServer_Check(t *testing.T) {
	h := NewHealthServer()

	if got := check(t, h, ""); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("Expected overall SERVING, got %s", got)
	}

	_, err := h.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "unknown"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("Expected NotFound for unknown service, got %v", err)
	}
}

func TestHealthServer_FollowsPipeline(t *testing.T) {
	h := NewHealthServer()
	h.SetServingStatus(CaptureService)

	h.HandleEvent(orchestrator.Event{Type: orchestrator.EventProgress, Progress: &orchestrator.Progress{Persisting: true}})
	if got := check(t, h, CaptureService); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING while persisting, got %s", got)
	}

	h.HandleEvent(orchestrator.Event{Type: orchestrator.EventProgress, Progress: &orchestrator.Progress{Persisting: false}})
	if got := check(t, h, CaptureService); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Expected NOT_SERVING in degraded mode, got %s", got)
	}

	h.HandleEvent(orchestrator.Event{Type: orchestrator.EventTransition, To: orchestrator.StateCapturing})
	if got := check(t, h, CaptureService); got != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING on new capture, got %s", got)
	}

	h.HandleEvent(orchestrator.Event{Type: orchestrator.EventTransition, To: orchestrator.StateError, Reason: orchestrator.ReasonTransferFailed})
	if got := check(t, h, CaptureService); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Expected NOT_SERVING after error, got %s", got)
	}
}
