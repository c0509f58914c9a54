// Package connector maps ATS families to source connectors. A
// connector turns one configured source into canonical, dedupe-keyed
// jobs while charging every page and job against the run's budget.
package connector

import (
	"context"
	"fmt"

	"github.com/jobrover/jobrover/internal/policy"
	"github.com/jobrover/jobrover/internal/scan"
)

// Connector fetches one source's jobs. Implementations must stop
// enumerating as soon as the budget refuses a page or job; partial
// results with OK=true are valid.
type Connector interface {
	Fetch(ctx context.Context, cfg scan.ConnectorConfig, budget *policy.Enforcer) (scan.ConnectorResult, error)
}

// ErrNoConnector reports an ATS family with no registered connector.
type ErrNoConnector struct {
	ATSType scan.ATSType
}

func (e *ErrNoConnector) Error() string {
	return fmt.Sprintf("no connector registered for ats type %q", e.ATSType)
}

// Registry holds the closed set of connectors, one per ATS family,
// plus the generic rendered-DOM connector.
type Registry struct {
	connectors map[scan.ATSType]Connector
	domCrawl   Connector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[scan.ATSType]Connector)}
}

// Register binds a connector to an ATS family, replacing any previous
// binding. Registration happens at startup; the registry is read-only
// afterwards.
func (r *Registry) Register(ats scan.ATSType, c Connector) {
	r.connectors[ats] = c
}

// RegisterDOMCrawl sets the connector serving every dom-crawl-strategy
// source, whatever ATS family its page markers revealed.
func (r *Registry) RegisterDOMCrawl(c Connector) {
	r.domCrawl = c
}

// Get returns the connector for an ATS family.
func (r *Registry) Get(ats scan.ATSType) (Connector, error) {
	c, ok := r.connectors[ats]
	if !ok {
		return nil, &ErrNoConnector{ATSType: ats}
	}
	return c, nil
}

// Resolve picks the connector for a fingerprint. Strategy wins over
// family: a source classified greenhouse by DOM markers alone has no
// board token, so only the dom-crawl connector can serve it.
func (r *Registry) Resolve(fp scan.FingerprintResult) (Connector, error) {
	if fp.ScrapeStrategy == scan.StrategyDOMCrawl {
		if r.domCrawl == nil {
			return nil, &ErrNoConnector{ATSType: fp.ATSType}
		}
		return r.domCrawl, nil
	}
	return r.Get(fp.ATSType)
}
