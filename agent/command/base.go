package command

import (
	"sync"

	"github.com/mongodb/jasper"
)

// base provides the shared implementation of the bookkeeping parts of
// the Command interface. Command implementations embed it and provide
// Name, ParseParams, and Execute themselves.
type base struct {
	fullDisplayName string
	jasper          jasper.Manager
	mu              sync.RWMutex
}

func (b *base) JasperManager() jasper.Manager {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.jasper
}

func (b *base) SetJasperManager(jpm jasper.Manager) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.jasper = jpm
}

func (b *base) FullDisplayName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.fullDisplayName
}

func (b *base) SetFullDisplayName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fullDisplayName = name
}
