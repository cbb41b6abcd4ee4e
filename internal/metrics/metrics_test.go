package metrics

import "testing"

func TestSnapMirrorsCounters(t *testing.T) {
	before := Snap()
	IncFrameSent()
	IncFrameAcked()
	IncFrameRejected(RejectTrailer)
	IncRetry()
	IncCancel("sent")
	AddRxBytes(10)
	AddTxBytes(7)
	IncError(ErrTransportRead)
	SessionStarted()
	mid := Snap()
	SessionEnded()
	after := Snap()

	if after.FramesSent-before.FramesSent != 1 || after.FramesAcked-before.FramesAcked != 1 {
		t.Fatalf("frame counters: before %+v after %+v", before, after)
	}
	if after.Rejected-before.Rejected != 1 || after.Retries-before.Retries != 1 || after.Cancels-before.Cancels != 1 {
		t.Fatalf("reject/retry/cancel counters: before %+v after %+v", before, after)
	}
	if after.RxBytes-before.RxBytes != 10 || after.TxBytes-before.TxBytes != 7 {
		t.Fatalf("byte counters: before %+v after %+v", before, after)
	}
	if after.Errors-before.Errors != 1 {
		t.Fatalf("errors: before %d after %d", before.Errors, after.Errors)
	}
	if mid.Sessions != before.Sessions+1 || after.Sessions != before.Sessions {
		t.Fatalf("sessions: before %d mid %d after %d", before.Sessions, mid.Sessions, after.Sessions)
	}
}

func TestReadiness(t *testing.T) {
	defer SetReadinessFunc(nil)
	SetReadinessFunc(nil)
	if !IsReady() {
		t.Fatalf("nil readiness func should report ready")
	}
	SetReadinessFunc(func() bool { return false })
	if IsReady() {
		t.Fatalf("expected not ready")
	}
}
