package s6a

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/protei/hss/internal/diamcodec"
)

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingObserver) Observe(imsi, command string, resultCode uint32, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, command)
}

func TestObserverNotifiedOnSuccessAndUnknownSubscriber(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	obs := &recordingObserver{}
	d.SetObserver(obs)

	if _, err := d.HandleAIR(context.Background(), airRequest("001010000000001", nil)); err != nil {
		t.Fatalf("HandleAIR: %v", err)
	}
	if _, err := d.HandleULR(context.Background(), ulrRequest("999999999999999")); err != nil {
		t.Fatalf("HandleULR: %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.calls) != 2 || obs.calls[0] != "AIR" || obs.calls[1] != "ULR" {
		t.Fatalf("calls = %v, want [AIR ULR]", obs.calls)
	}
}

func TestObserverNotifiedOnMalformedRequest(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	obs := &recordingObserver{}
	d.SetObserver(obs)

	req := diamcodec.NewRequest(diamcodec.CmdAIR, diamcodec.AppIDS6a, 9, 9)
	ans, err := d.HandleAIR(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleAIR: %v", err)
	}
	rc, ok := ans.Find(diamcodec.AVPResultCode)
	if !ok {
		t.Fatalf("missing Result-Code on malformed-request answer")
	}
	if v, _ := rc.Uint32(); v != diamcodec.ResultMissingAVP {
		t.Fatalf("Result-Code = %d, want %d", v, diamcodec.ResultMissingAVP)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.calls) != 1 || obs.calls[0] != "AIR" {
		t.Fatalf("calls = %v, want [AIR]", obs.calls)
	}
}
