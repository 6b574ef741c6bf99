package soma

import (
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dudoslav/TileDB-SOMA/engine"
)

// Mode selects whether an array handle reads or writes.
type Mode = engine.OpenMode

const (
	ModeRead  = engine.ModeRead
	ModeWrite = engine.ModeWrite
)

// ResultOrder selects the row order of read results.
type ResultOrder uint8

const (
	// OrderAuto lets the engine pick the cheapest order.
	OrderAuto ResultOrder = iota
	// OrderRowMajor orders rows by coordinates, first dimension slowest.
	OrderRowMajor
	// OrderColMajor orders rows by coordinates, last dimension slowest.
	OrderColMajor
)

func (o ResultOrder) String() string {
	switch o {
	case OrderAuto:
		return "auto"
	case OrderRowMajor:
		return "row-major"
	case OrderColMajor:
		return "col-major"
	default:
		return "order(?)"
	}
}

func (o ResultOrder) layout() engine.Layout {
	switch o {
	case OrderRowMajor:
		return engine.LayoutRowMajor
	case OrderColMajor:
		return engine.LayoutColMajor
	default:
		return engine.LayoutUnordered
	}
}

// defaultBatchCells is the batch size used when WithBatchSize is absent.
const defaultBatchCells = 1 << 16

type options struct {
	mode        Mode
	queryName   string
	columns     []string
	batchSize   int
	resultOrder ResultOrder
	tsStart     uint64
	tsEnd       uint64
	tsSet       bool
	logger      *Logger
	metrics     MetricsCollector
	allocator   memory.Allocator
}

// Option configures Open behavior.
type Option func(*options)

// WithMode selects read or write mode. The default is ModeRead.
func WithMode(mode Mode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithQueryName tags the handle's log output for diagnostics.
func WithQueryName(name string) Option {
	return func(o *options) {
		o.queryName = name
	}
}

// WithColumns restricts reads to the named columns. The default is all
// schema columns in schema order.
func WithColumns(names ...string) Option {
	return func(o *options) {
		o.columns = append([]string(nil), names...)
	}
}

// WithBatchSize caps the number of rows per result batch. Zero keeps the
// default.
func WithBatchSize(cells int) Option {
	return func(o *options) {
		o.batchSize = cells
	}
}

// WithResultOrder sets the row order of read results.
func WithResultOrder(order ResultOrder) Option {
	return func(o *options) {
		o.resultOrder = order
	}
}

// WithTimestampRange opens the array at the inclusive timestamp interval
// [start, end]. The default is [0, now] with millisecond timestamps.
func WithTimestampRange(start, end uint64) Option {
	return func(o *options) {
		o.tsStart = start
		o.tsEnd = end
		o.tsSet = true
	}
}

// WithLogger configures structured logging for operations.
//
// Example with JSON logging:
//
//	logger := soma.NewJSONLogger(slog.LevelInfo)
//	a, _ := soma.Open(ctx, ectx, uri, soma.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetrics configures a metrics collector for monitoring operations.
//
// Example with BasicMetricsCollector:
//
//	metrics := &soma.BasicMetricsCollector{}
//	a, _ := soma.Open(ctx, ectx, uri, soma.WithMetrics(metrics))
//	// ... use a ...
//	stats := metrics.GetStats()
//	fmt.Printf("Queries: %d, Avg latency: %dns\n", stats.QueryCount, stats.QueryAvgNanos)
func WithMetrics(mc MetricsCollector) Option {
	return func(o *options) {
		o.metrics = mc
	}
}

// WithAllocator sets the arrow allocator used for result batches.
func WithAllocator(alloc memory.Allocator) Option {
	return func(o *options) {
		o.allocator = alloc
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		mode:      ModeRead,
		batchSize: defaultBatchCells,
		metrics:   NoopMetricsCollector{},
		logger:    NoopLogger(),
		allocator: memory.DefaultAllocator,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.batchSize <= 0 {
		o.batchSize = defaultBatchCells
	}
	return o
}
