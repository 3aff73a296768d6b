package httpapi

import (
	"context"
	"testing"
	"time"
)

func TestJoinContexts_CancelOnEither(t *testing.T) {
	base, cancelBase := context.WithCancel(context.Background())
	req, cancelReq := context.WithCancel(context.Background())
	defer cancelReq()
	ctx, cancel := joinContexts(base, req)
	defer cancel()
	cancelBase()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("joined context not canceled by base")
	}

	base2 := context.Background()
	req2, cancelReq2 := context.WithCancel(context.Background())
	ctx2, cancel2 := joinContexts(base2, req2)
	defer cancel2()
	cancelReq2()
	select {
	case <-ctx2.Done():
	case <-time.After(time.Second):
		t.Fatalf("joined context not canceled by request")
	}
}

func TestJoinContexts_CancelFuncReleases(t *testing.T) {
	ctx, cancel := joinContexts(context.Background(), context.Background())
	cancel()
	if ctx.Err() == nil {
		t.Fatalf("cancel func did not cancel")
	}
}
