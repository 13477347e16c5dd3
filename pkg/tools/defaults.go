package tools

import (
	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/masking"
	"github.com/merlinn-co/merlinn/pkg/models"
)

// NewDefaultRegistry registers every built-in vendor loader and the static
// loaders.
func NewDefaultRegistry(masker *masking.Service, alertsCfg *config.AlertsConfig) *Registry {
	r := NewRegistry(masker)
	r.Register(models.VendorPrometheus, PrometheusLoader)
	r.Register(models.VendorMongoDB, MongoDBLoader)
	r.Register(models.VendorGithub, GithubLoader)
	r.Register(models.VendorDataDog, DataDogLoader)
	r.Register(models.VendorCoralogix, CoralogixLoader)
	r.Register(models.VendorJaeger, JaegerLoader)
	r.Register(models.VendorElasticsearch, ElasticsearchLoader)
	r.Register(models.VendorMCP, MCPLoader)
	r.RegisterStatic(CurrentTimeLoader, AlertDetailsLoader(alertsCfg))
	return r
}
