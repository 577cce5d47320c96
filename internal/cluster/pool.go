package cluster

import (
	"context"
	stderrors "errors"
	"io"
	"sort"
	"sync"

	"github.com/dreamware/strata/internal/errors"
	"github.com/dreamware/strata/internal/schema"
	"github.com/dreamware/strata/internal/storage"
)

// ConnectionInfo describes one configured database connection.
type ConnectionInfo struct {
	Name   string `mapstructure:"name" yaml:"name" json:"name"`
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
}

// Pool maps connection names, as used by shard targets, to gateways.
//
// Thread Safety: all methods are safe for concurrent use.
type Pool struct {
	mu       sync.RWMutex
	gateways map[string]storage.Gateway
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{gateways: make(map[string]storage.Gateway)}
}

// OpenAll opens an SQL gateway for every connection. On failure the gateways
// already opened are closed.
func OpenAll(infos []ConnectionInfo, opts ...storage.Option) (*Pool, error) {
	p := NewPool()
	for _, info := range infos {
		if _, err := p.Open(info, opts...); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// Open opens an SQL gateway for info and adds it under info.Name.
func (p *Pool) Open(info ConnectionInfo, opts ...storage.Option) (*storage.SQLGateway, error) {
	g, err := storage.Open(info.Name, info.Driver, info.DSN, opts...)
	if err != nil {
		return nil, err
	}
	if err := p.Add(info.Name, g); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// Add registers a gateway. Names must be unique and non-empty.
func (p *Pool) Add(name string, g storage.Gateway) error {
	if name == "" {
		return errors.New(errors.Config, "connection name is empty")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.gateways[name]; exists {
		return errors.New(errors.Config, "duplicate connection").WithConnection(name)
	}
	p.gateways[name] = g
	return nil
}

// Gateway returns the gateway registered under name.
func (p *Pool) Gateway(name string) (storage.Gateway, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	g, ok := p.gateways[name]
	if !ok {
		return nil, errors.New(errors.Config, "unknown connection").WithConnection(name)
	}
	return g, nil
}

// Provider returns the metadata provider of the named connection.
func (p *Pool) Provider(name string) (schema.Provider, error) {
	g, err := p.Gateway(name)
	if err != nil {
		return nil, err
	}
	pr, ok := g.(schema.Provider)
	if !ok {
		return nil, errors.New(errors.Metadata, "connection cannot describe tables").WithConnection(name)
	}
	return pr, nil
}

// Ping checks the named connection. Gateways without a Ping method are
// assumed reachable.
func (p *Pool) Ping(ctx context.Context, name string) error {
	g, err := p.Gateway(name)
	if err != nil {
		return err
	}
	if pinger, ok := g.(storage.Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// Names returns the registered connection names, sorted.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.gateways))
	for name := range p.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of connections.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.gateways)
}

// Close closes every gateway that holds resources and empties the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for name, g := range p.gateways {
		if c, ok := g.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, errors.Wrap(errors.Gateway, err, "close failed").WithConnection(name))
			}
		}
	}
	p.gateways = make(map[string]storage.Gateway)
	return stderrors.Join(errs...)
}
