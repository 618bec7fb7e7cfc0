package streams

// Factory creates a Stream from config.
// Each backend (redis, memory) implements and registers a Factory.
type Factory interface {
	Name() string
	Create(cfg Config) (Stream, error)
}
