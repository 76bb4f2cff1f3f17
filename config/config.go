package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	CRM       CRMConfig
	Database  DatabaseConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
	Photos    PhotoConfig
	S3        S3Config
	Proxy     ProxyConfig
	HTTPAddr  string
	LogDir    string
}

type CRMConfig struct {
	BaseURL           string
	APIKey            string
	PageSize          int
	Timeout           time.Duration
	RequestsPerSecond float64
	FieldsFile        string
	Fields            FieldProjection
}

// FieldProjection lists the CRM fields requested by each call.
type FieldProjection struct {
	IDs     []string `yaml:"ids"`
	List    []string `yaml:"list"`
	Detail  []string `yaml:"detail"`
	Photo   []string `yaml:"photo"`
	OrderBy string   `yaml:"order_by"`
}

type DatabaseConfig struct {
	Driver string // postgres | sqlite
	URL    string
	Path   string
}

type SyncConfig struct {
	BatchDelay     time.Duration
	SoftRetryLimit int
	HardRetryLimit int
}

type SchedulerConfig struct {
	StepCron string
	FullCron string
}

type PhotoConfig struct {
	Dir     string
	Timeout time.Duration
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether downloaded photos should be mirrored to a bucket.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type ProxyConfig struct {
	URL string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		CRM: CRMConfig{
			BaseURL:           getEnv("CRM_BASE_URL", "https://example-rest.vistahost.com.br/imoveis"),
			APIKey:            os.Getenv("CRM_API_KEY"),
			PageSize:          getEnvInt("CRM_PAGE_SIZE", 50),
			Timeout:           getEnvDuration("CRM_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvFloat("CRM_REQUESTS_PER_SECOND", 0),
			FieldsFile:        getEnv("CRM_FIELDS_FILE", "config/crm.yaml"),
			Fields:            DefaultFields(),
		},
		Database: DatabaseConfig{
			Driver: getEnv("DB_DRIVER", "sqlite"),
			URL:    os.Getenv("DATABASE_URL"),
			Path:   getEnv("DB_PATH", "catalog.db"),
		},
		Sync: SyncConfig{
			BatchDelay:     getEnvDuration("SYNC_BATCH_DELAY", 120*time.Second),
			SoftRetryLimit: getEnvInt("SYNC_SOFT_RETRY_LIMIT", 5),
			HardRetryLimit: getEnvInt("SYNC_HARD_RETRY_LIMIT", 10),
		},
		Scheduler: SchedulerConfig{
			StepCron: os.Getenv("SYNC_CRON"),
			FullCron: os.Getenv("FULL_SYNC_CRON"),
		},
		Photos: PhotoConfig{
			Dir:     getEnv("PHOTO_DIR", "imagens"),
			Timeout: getEnvDuration("PHOTO_TIMEOUT", 60*time.Second),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		HTTPAddr: getEnv("HTTP_ADDR", ":21009"),
		LogDir:   getEnv("LOG_DIR", "logs"),
	}

	if err := cfg.loadFieldProjection(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultFields mirrors the projections the sync has always requested.
func DefaultFields() FieldProjection {
	common := []string{
		"Edificio", "Categoria", "Descricao", "Status",
		"Dormitorios", "Vagas", "BanheiroSocialQtd", "AreaPrivativa",
		"Cidade", "UF", "Bairro", "Endereco", "TipoEndereco",
		"Latitude", "Longitude", "ValorVenda", "ValorLocacao",
		"Situacao", "Finalidade", "DataAtualizacao",
		"ValorIptu", "ValorCondominio", "DistanciaMar", "ExibirNoSite",
	}
	detail := append([]string{"Codigo"}, common...)
	// the list passthrough is raw JSON, so it also carries fields the
	// local row has no column for
	list := append(append([]string(nil), common...), "FotoDestaque", "Caracteristicas")

	return FieldProjection{
		IDs:     []string{"Codigo"},
		List:    list,
		Detail:  detail,
		Photo:   []string{"Foto", "FotoPequena", "Destaque", "Codigo"},
		OrderBy: "DataAtualizacao",
	}
}

// loadFieldProjection overlays the YAML projection file, when present, on
// top of the defaults. Empty lists in the file keep the default.
func (c *Config) loadFieldProjection() error {
	data, err := os.ReadFile(c.CRM.FieldsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", c.CRM.FieldsFile, err)
	}

	var fp FieldProjection
	if err := yaml.Unmarshal(data, &fp); err != nil {
		return fmt.Errorf("parse %s: %w", c.CRM.FieldsFile, err)
	}

	if len(fp.IDs) > 0 {
		c.CRM.Fields.IDs = fp.IDs
	}
	if len(fp.List) > 0 {
		c.CRM.Fields.List = fp.List
	}
	if len(fp.Detail) > 0 {
		c.CRM.Fields.Detail = fp.Detail
	}
	if len(fp.Photo) > 0 {
		c.CRM.Fields.Photo = fp.Photo
	}
	if fp.OrderBy != "" {
		c.CRM.Fields.OrderBy = fp.OrderBy
	}
	return nil
}

func (c *Config) validate() error {
	if c.CRM.PageSize <= 0 {
		return fmt.Errorf("CRM_PAGE_SIZE must be positive, got %d", c.CRM.PageSize)
	}
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.Database.Driver)
	}
	if c.Sync.SoftRetryLimit < 0 || c.Sync.HardRetryLimit < c.Sync.SoftRetryLimit {
		return fmt.Errorf("retry limits must satisfy 0 <= soft (%d) <= hard (%d)",
			c.Sync.SoftRetryLimit, c.Sync.HardRetryLimit)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
