// Package azcli wraps the Azure CLI. Every call runs `az ... -o json` and
// decodes stdout; a non-zero exit or unparsable output is returned as an error.
package azcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/reviewapps-dev/azdeploy/internal/executor"
)

const DefaultBin = "az"

// ErrEmptyResult is returned by callers when a query that must yield at least
// one entry comes back empty.
var ErrEmptyResult = errors.New("az: empty result")

type Database struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ResourceGroup string `json:"resourceGroup"`
	Kind          string `json:"kind"`
}

type ConnectionString struct {
	ConnectionString string `json:"connectionString"`
	Description      string `json:"description"`
}

type Plan struct {
	Name          string `json:"name"`
	ResourceGroup string `json:"resourceGroup"`
	Location      string `json:"location"`
	Sku           struct {
		Name string `json:"name"`
		Tier string `json:"tier"`
	} `json:"sku"`
}

type WebApp struct {
	Name            string   `json:"name"`
	ResourceGroup   string   `json:"resourceGroup"`
	DefaultHostName string   `json:"defaultHostName"`
	HostNames       []string `json:"hostNames"`
	State           string   `json:"state"`
}

// CreatedWebApp is the subset of `az webapp create` output we use.
type CreatedWebApp struct {
	WebApp
	DeploymentLocalGitURL string `json:"deploymentLocalGitUrl"`
}

type CreateWebAppRequest struct {
	Name          string
	Plan          string
	ResourceGroup string
	Runtime       string
}

type Client struct {
	runner executor.Runner
	bin    string
}

func New(runner executor.Runner, bin string) *Client {
	if bin == "" {
		bin = DefaultBin
	}
	return &Client{runner: runner, bin: bin}
}

func (c *Client) ListDatabases(ctx context.Context) ([]Database, error) {
	var dbs []Database
	if err := c.query(ctx, &dbs, "cosmosdb", "list"); err != nil {
		return nil, err
	}
	return dbs, nil
}

func (c *Client) ListConnectionStrings(ctx context.Context, databaseID string) ([]ConnectionString, error) {
	var out struct {
		ConnectionStrings []ConnectionString `json:"connectionStrings"`
	}
	if err := c.query(ctx, &out, "cosmosdb", "keys", "list", "--type", "connection-strings", "--ids", databaseID); err != nil {
		return nil, err
	}
	return out.ConnectionStrings, nil
}

func (c *Client) ListPlans(ctx context.Context) ([]Plan, error) {
	var plans []Plan
	if err := c.query(ctx, &plans, "appservice", "plan", "list"); err != nil {
		return nil, err
	}
	return plans, nil
}

func (c *Client) ListWebApps(ctx context.Context) ([]WebApp, error) {
	var apps []WebApp
	if err := c.query(ctx, &apps, "webapp", "list"); err != nil {
		return nil, err
	}
	return apps, nil
}

func (c *Client) CreateWebApp(ctx context.Context, req CreateWebAppRequest) (*CreatedWebApp, error) {
	var created CreatedWebApp
	err := c.query(ctx, &created, "webapp", "create",
		"--name", req.Name,
		"--plan", req.Plan,
		"--resource-group", req.ResourceGroup,
		"--runtime", req.Runtime,
		"--deployment-local-git",
	)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// DeployZip uploads a zip package to the web app.
func (c *Client) DeployZip(ctx context.Context, name, resourceGroup, src string) error {
	var ignored json.RawMessage
	return c.query(ctx, &ignored, "webapp", "deployment", "source", "config-zip",
		"--name", name,
		"--resource-group", resourceGroup,
		"--src", src,
	)
}

func (c *Client) query(ctx context.Context, into any, args ...string) error {
	label := "az " + strings.Join(leadingWords(args), " ")

	res, err := c.runner.Run(ctx, c.bin, append(args, "--output", "json"))
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}

	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		// Some commands print nothing on success.
		if _, ok := into.(*json.RawMessage); ok {
			return nil
		}
		return fmt.Errorf("%s: no output", label)
	}
	if err := json.Unmarshal([]byte(out), into); err != nil {
		return fmt.Errorf("%s: parse output: %w", label, err)
	}
	return nil
}

// leadingWords returns the subcommand words before the first flag.
func leadingWords(args []string) []string {
	for i, a := range args {
		if strings.HasPrefix(a, "-") {
			return args[:i]
		}
	}
	return args
}
