package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dudoslav/TileDB-SOMA/resource"
	"github.com/dudoslav/TileDB-SOMA/vfs"
)

// Context holds the shared state of an engine instance: the registered
// storage backends and the resource controller. A Context is safe for
// concurrent use and is typically shared by all arrays of a process.
type Context struct {
	mu        sync.RWMutex
	fss       map[string]vfs.FileSystem
	resources *resource.Controller
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithFileSystem registers a storage backend for a URI scheme, replacing
// any default registration. Use it to route "s3" to a bucket-scoped FS or
// to share one MemFS between contexts.
func WithFileSystem(scheme string, fs vfs.FileSystem) ContextOption {
	return func(c *Context) {
		c.fss[scheme] = fs
	}
}

// WithResources sets the resource limits for the context.
func WithResources(cfg resource.Config) ContextOption {
	return func(c *Context) {
		c.resources = resource.NewController(cfg)
	}
}

// NewContext creates a Context with mem:// and file:// backends registered
// by default and no resource limits.
func NewContext(opts ...ContextOption) (*Context, error) {
	c := &Context{
		fss: map[string]vfs.FileSystem{
			"mem":  vfs.NewMemFS(),
			"file": vfs.NewLocalFS("/"),
		},
		resources: resource.NewController(resource.Config{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	for scheme, fs := range c.fss {
		if scheme == "" {
			return nil, fmt.Errorf("engine: filesystem registered with empty scheme")
		}
		if fs == nil {
			return nil, fmt.Errorf("engine: nil filesystem for scheme %q", scheme)
		}
	}
	return c, nil
}

// Resources returns the context's resource controller.
func (c *Context) Resources() *resource.Controller {
	return c.resources
}

// ListFragments returns the committed, non-superseded fragments of the array
// at uri, ordered by timestamp start, commit time and ID.
func (c *Context) ListFragments(ctx context.Context, uri string) ([]FragmentInfo, error) {
	fs, arrayPath, err := c.resolve(uri)
	if err != nil {
		return nil, err
	}
	return listFragments(ctx, fs, arrayPath)
}

// resolve maps an array URI onto a registered backend and the path within
// it. URIs without a scheme are treated as local paths.
func (c *Context) resolve(uri string) (vfs.FileSystem, string, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		scheme, rest = "file", uri
	}

	c.mu.RLock()
	fs, registered := c.fss[scheme]
	c.mu.RUnlock()
	if !registered {
		return nil, "", fmt.Errorf("engine: no filesystem registered for scheme %q", scheme)
	}

	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil, "", fmt.Errorf("engine: uri %q has empty path", uri)
	}
	return fs, rest, nil
}
