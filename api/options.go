package api

import "fmt"

// Options is the full set of recognized generator options.
// It is decoded from a TOML or YAML file and then overridden from the command line.
type Options struct {
	// Iter is the capture pattern; every match is one token.
	Iter string `toml:"iter" yaml:"iter"`
	// PrefixMiddle is written after every generated token except line breaks.
	PrefixMiddle string `toml:"prefixmiddle" yaml:"prefixmiddle"`
	// N is the context width (chain order). Must be at least 1.
	N int `toml:"N" yaml:"N"`
	// SplitStr trains line by line and inserts a line-break token between lines.
	SplitStr bool `toml:"splitstr" yaml:"splitstr"`
	// MaxGen caps the number of generated tokens. Zero means no limit.
	MaxGen uint64 `toml:"maxgen" yaml:"maxgen"`
	// RndStart starts generation from the context of a random transition.
	RndStart bool `toml:"rndstart" yaml:"rndstart"`
	// Separator splits the input into independent blocks (pattern, optional).
	Separator string `toml:"separator" yaml:"separator"`
	// Storage holds backend-specific parameters (ignored by the memory backend).
	Storage Storage `toml:"storage" yaml:"storage"`
}

// Storage describes where a relational backend keeps its chain.
type Storage struct {
	// Endpoint is a SQLite file path/URI or a network DSN / host:port.
	Endpoint string `toml:"endpoint" yaml:"endpoint"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
	Database string `toml:"database" yaml:"database"`
	// Table holds the transitions, DictTable the token dictionary.
	Table     string `toml:"table" yaml:"table"`
	DictTable string `toml:"dict_table" yaml:"dict_table"`
	// Index drops a context index left by an earlier run before bulk loading.
	// The index is always built once training has finished.
	Index bool `toml:"index" yaml:"index"`
	// Transactions runs training transactions at READ COMMITTED isolation.
	Transactions bool `toml:"transactions" yaml:"transactions"`
}

// Option describes one recognized key for help output.
type Option struct {
	Key         string
	Required    bool
	Description string
}

// Known lists every option key accepted in config files and overrides.
var Known = []Option{
	{Key: "iter", Required: true, Description: "capture pattern selecting one token per match"},
	{Key: "prefixmiddle", Description: "written after every generated token except line breaks"},
	{Key: "N", Required: true, Description: "context width (chain order), at least 1"},
	{Key: "splitstr", Description: "train line by line, keeping line breaks as tokens"},
	{Key: "maxgen", Description: "emit at most this many tokens (0 = no limit)"},
	{Key: "rndstart", Description: "start from a random trained context"},
	{Key: "separator", Description: "block separator pattern"},
	{Key: "storage.endpoint", Description: "database file/URI or network DSN"},
	{Key: "storage.user", Description: "database user"},
	{Key: "storage.password", Description: "database password"},
	{Key: "storage.database", Description: "database (schema) name"},
	{Key: "storage.table", Description: "transition table"},
	{Key: "storage.dict_table", Description: "dictionary table"},
	{Key: "storage.index", Description: "drop an existing context index before bulk loading"},
	{Key: "storage.transactions", Description: "READ COMMITTED isolation for training transactions"},
}

const (
	DefaultTable     = "markov"
	DefaultDictTable = "markov_dict"
)

// SetDefaults fills optional fields left empty.
func (o *Options) SetDefaults() {
	if o.Storage.Table == "" {
		o.Storage.Table = DefaultTable
	}
	if o.Storage.DictTable == "" {
		o.Storage.DictTable = DefaultDictTable
	}
}

// Validate checks the required options.
func (o *Options) Validate() error {
	if o.Iter == "" {
		return fmt.Errorf("%w: option iter is required", ErrConfig)
	}
	if o.N < 1 {
		return fmt.Errorf("%w: option N must be at least 1, got %d", ErrConfig, o.N)
	}
	return nil
}
