package config

// Storage selects the state backend: "memory", "leveldb" or "bolt".
type Storage struct {
	Backend string `toml:"Backend"`
	Path    string `toml:"Path,omitempty"`
}

// Market names the hub owner, the asset pair and, optionally, fixed engine
// addresses. Empty engine addresses are derived from the engine name.
type Market struct {
	Owner      string `toml:"Owner"`
	Underlying string `toml:"Underlying"`
	Cash       string `toml:"Cash"`
	Provider   string `toml:"Provider,omitempty"`
	Taker      string `toml:"Taker,omitempty"`
	Escrow     string `toml:"Escrow,omitempty"`
	Rolls      string `toml:"Rolls,omitempty"`
	Loans      string `toml:"Loans,omitempty"`
}

// Oracle configures the price source. Source is "manual" (a fixed starting
// price, updated through the daemon) or "redis" (rounds published by an
// external pusher).
type Oracle struct {
	Source              string `toml:"Source"`
	Pair                string `toml:"Pair"`
	BaseUnitAmount      string `toml:"BaseUnitAmount"`
	MaxAgeSeconds       uint64 `toml:"MaxAgeSeconds"`
	InitialPrice        string `toml:"InitialPrice,omitempty"`
	RedisTimeoutMs      uint64 `toml:"RedisTimeoutMs"`
	SequencerGraceSecs  uint64 `toml:"SequencerGraceSecs,omitempty"`
	SequencerUpSinceSec uint64 `toml:"SequencerUpSinceSec,omitempty"`
}

// Redis is the connection used by the redis price feed and the keeper lock.
// URL takes precedence over Addr.
type Redis struct {
	URL      string `toml:"URL,omitempty"`
	Addr     string `toml:"Addr"`
	Password string `toml:"Password,omitempty"`
	DB       int    `toml:"DB"`
}

// Genesis is the owner configuration applied to a fresh database.
type Genesis struct {
	MinLTV          uint64   `toml:"MinLTV"`
	MaxLTV          uint64   `toml:"MaxLTV"`
	MinDurationSecs uint64   `toml:"MinDurationSecs"`
	MaxDurationSecs uint64   `toml:"MaxDurationSecs"`
	ProtocolFeeAPR  uint64   `toml:"ProtocolFeeAPR"`
	FeeRecipient    string   `toml:"FeeRecipient,omitempty"`
	PauseGuardian   string   `toml:"PauseGuardian,omitempty"`
	Swappers        []string `toml:"Swappers"`
	EnableEscrow    bool     `toml:"EnableEscrow"`
}

// Swapper configures the built-in oracle-priced inventory swapper.
type Swapper struct {
	Enabled    bool   `toml:"Enabled"`
	SpreadBips uint64 `toml:"SpreadBips"`
}
