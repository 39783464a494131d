package conf

// Bootstrap is the top-level configuration scanned from the kratos config
// source. The Pipeline block is converted into pkg/config.Config by the
// server wiring.
type Bootstrap struct {
	Server   *Server
	Pipeline *Pipeline
}

type Server struct {
	Http *HTTP
}

type HTTP struct {
	Addr    string
	Timeout string
}

type Pipeline struct {
	Reddit      *Reddit      `json:"reddit"`
	Classifier  *Classifier  `json:"classifier"`
	Llm         *LLM         `json:"llm"`
	Scoring     *Scoring     `json:"scoring"`
	Concurrency *Concurrency `json:"concurrency"`
	Poller      *Poller      `json:"poller"`
	Content     *Content     `json:"content"`
	Log         *Log         `json:"log"`
	Db          *DB          `json:"db"`
}

type Reddit struct {
	ClientId     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	UserAgent    string `json:"user_agent"`
}

type Classifier struct {
	BaseUrl        string   `json:"base_url"`
	ApiKey         string   `json:"api_key"`
	Models         []*Model `json:"models"`
	TimeoutSeconds int32    `json:"timeout_seconds"`
	MaxRetries     int32    `json:"max_retries"`
}

type Model struct {
	Id          string   `json:"id"`
	AiLabels    []string `json:"ai_labels"`
	HumanLabels []string `json:"human_labels"`
}

type LLM struct {
	BaseUrl string `json:"base_url"`
	ApiKey  string `json:"api_key"`
	Model   string `json:"model"`
}

type Scoring struct {
	Weights             map[string]float64 `json:"weights"`
	DefaultWeight       float64            `json:"default_weight"`
	ConfidenceThreshold float64            `json:"confidence_threshold"`
	MinBodyLength       int32              `json:"min_body_length"`
	BotEntropy          float64            `json:"bot_entropy"`
	HumanEntropy        float64            `json:"human_entropy"`
	MinEntropy          float64            `json:"min_entropy"`
	MaxEntropy          float64            `json:"max_entropy"`
}

type Concurrency struct {
	Qps    int32 `json:"qps"`
	Rpm    int32 `json:"rpm"`
	FanOut int32 `json:"fan_out"`
}

type Poller struct {
	IntervalSeconds int32 `json:"interval_seconds"`
	BatchSize       int32 `json:"batch_size"`
}

type Content struct {
	Provider string `json:"provider"`
}

type Log struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

type DB struct {
	Host     string `json:"host"`
	Port     int32  `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
}
