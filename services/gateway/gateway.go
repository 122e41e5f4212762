package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/ormgate-tech/ormgate/core/access"
	"github.com/ormgate-tech/ormgate/core/csql"
	"github.com/ormgate-tech/ormgate/core/gateway"
	"github.com/ormgate-tech/ormgate/core/logger"
	"github.com/ormgate-tech/ormgate/core/login"
	"github.com/ormgate-tech/ormgate/core/metrics"
	"github.com/ormgate-tech/ormgate/core/registry"
	"github.com/ormgate-tech/ormgate/core/sqlrec"
)

var configurationJSON string = `
{
	"models": [
	  {
		"model": "res_company",
		"label": "Company",
		"fields": [
		  {"name": "name", "kind": "char", "label": "Name", "required": true},
		  {"name": "website", "kind": "char", "label": "Website"}
		]
	  },
	  {
		"model": "res_partner",
		"label": "Partner",
		"fields": [
		  {"name": "name", "kind": "char", "label": "Name", "required": true},
		  {"name": "email", "kind": "char", "label": "Email"},
		  {"name": "is_company", "kind": "boolean", "label": "Is a Company"},
		  {"name": "birthday", "kind": "date", "label": "Birthday"},
		  {"name": "credit", "kind": "float", "label": "Credit"},
		  {"name": "image", "kind": "binary", "label": "Image"},
		  {"name": "meta", "kind": "json", "label": "Metadata"},
		  {"name": "company_id", "kind": "many2one", "label": "Company", "relation": "res_company"}
		]
	  },
	  {
		"model": "product",
		"label": "Product",
		"fields": [
		  {"name": "name", "kind": "char", "label": "Name", "required": true},
		  {"name": "list_price", "kind": "float", "label": "Price"},
		  {"name": "active", "kind": "boolean", "label": "Active"},
		  {"name": "company_id", "kind": "many2one", "label": "Company", "relation": "res_company"}
		]
	  }
	]
}
`

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Postgres          string        `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	PostgresSchema    string        `env:"POSTGRES_SCHEMA,default=ormgate" description:"the database schema to use"`
	Database          string        `env:"GATEWAY_DATABASE,default=acme" description:"the database name logins must target"`
	Port              string        `env:"PORT,default=3000" description:"the port to listen on"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL,default=10m" description:"how often expired tokens are deactivated"`
	BootstrapLogin    string        `env:"BOOTSTRAP_LOGIN,default=" description:"optional login of a user to create at startup"`
	BootstrapPassword string        `env:"BOOTSTRAP_PASSWORD,default=" description:"password for the bootstrap user"`
}

func main() {
	logger.InitLogger(logrus.InfoLevel)

	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(service.Postgres, service.PostgresSchema)
	defer db.Close()

	router := mux.NewRouter()
	logger.AddRequestID(router)
	metrics.Init()
	router.Use(metrics.Instrument)
	gateway.AddCORS(router)
	gateway.AddCompression(router)

	tokens := access.NewTokenStore(db)
	router.Use(access.NewMiddleware(tokens))

	directory := sqlrec.NewDirectory(db, service.Database)
	if service.BootstrapLogin != "" && service.BootstrapPassword != "" {
		if _, err := directory.EnsureUser(context.Background(), service.BootstrapLogin, service.BootstrapPassword); err != nil {
			panic(err)
		}
		logger.Default().Infoln("bootstrap user ensured:", service.BootstrapLogin)
	}

	recordStore := sqlrec.New(&sqlrec.Builder{
		Config: configurationJSON,
		DB:     db,
	})

	login.NewService(directory, tokens).AddRoutes(router)
	gateway.New(recordStore).AddRoutes(router)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the outcome of the last sweep is kept in the registry for operations
	operations := registry.New(db).Accessor("gateway")
	go tokens.RunExpirySweeper(ctx, service.SweepInterval, func(deactivated int64) {
		err := operations.Write("last_token_sweep", map[string]interface{}{
			"deactivated": deactivated,
			"swept_at":    time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			logger.Default().WithError(err).Errorln("cannot record token sweep")
		}
	})

	logger.Default().Infoln("listen on port :" + service.Port)
	http.ListenAndServe(":"+service.Port, router)
}
