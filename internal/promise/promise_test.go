package promise

import "testing"

type manualPromise struct {
	ready chan struct{}
	value int
	err   error
}

func newManualPromise() *manualPromise {
	return &manualPromise{ready: make(chan struct{})}
}

func (m *manualPromise) resolve(v int, err error) {
	m.value, m.err = v, err
	close(m.ready)
}

func (m *manualPromise) IsReady() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

func (m *manualPromise) Sync() (int, error) {
	<-m.ready
	return m.value, m.err
}

func TestReadyPromise(t *testing.T) {
	p := NewReady(42)
	if !p.IsReady() {
		t.Fatal("Ready promise must report ready immediately")
	}
	v, err := p.Sync()
	if err != nil || v != 42 {
		t.Fatalf("Sync() = %d, %v; want 42, nil", v, err)
	}
}

func TestManualPromiseNotReadyUntilResolved(t *testing.T) {
	var p Promise[int] = newManualPromise()
	if p.IsReady() {
		t.Fatal("unresolved promise must not report ready")
	}

	mp := p.(*manualPromise)
	mp.resolve(7, nil)

	if !p.IsReady() {
		t.Fatal("resolved promise must report ready")
	}
	v, err := p.Sync()
	if err != nil || v != 7 {
		t.Fatalf("Sync() = %d, %v; want 7, nil", v, err)
	}
}
