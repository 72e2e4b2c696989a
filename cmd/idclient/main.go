// Command idclient queries an identity directory cluster through its HTTP
// gateways.
//
// Usage:
//
//	idclient -s host1,host2 [-n port] --create name [real name] --password pw
//	idclient -s host1,host2 [-n port] --lookup name
//	idclient -s host1,host2 [-n port] --reverse-lookup id
//	idclient -s host1,host2 [-n port] --modify old new --password pw
//	idclient -s host1,host2 [-n port] --delete name --password pw
//	idclient -s host1,host2 [-n port] --get users|uuids|all
//
// Every server's gateway is expected on the same port. Writes go to the
// coordinator; reads go to the first server that answers.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dreamware/iddir/internal/cluster"
)

// logFatal is a variable to allow mocking in tests
var logFatal = log.Fatalf

const defaultGatewayPort = 8080

var errUsage = errors.New("exactly one query is required")

type query struct {
	op       string // create, lookup, reverse-lookup, modify, delete, get
	name     string
	extra    string // real name for create, new name for modify
	password string
}

type client struct {
	servers []string
	port    int
	timeout time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		logFatal("%v", err)
	}
}

func run(args []string, out io.Writer) error {
	c, q, err := parseArgs(args)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	resp, err := c.do(ctx, q)
	if err != nil {
		return err
	}
	render(out, q, resp)
	return nil
}

func parseArgs(args []string) (*client, query, error) {
	var (
		servers string
		q       query
		ops     = map[string]*string{}
	)
	c := &client{}

	fs := flag.NewFlagSet("idclient", flag.ContinueOnError)
	fs.StringVar(&servers, "s", "", "comma-separated server hosts")
	fs.IntVar(&c.port, "n", defaultGatewayPort, "HTTP gateway port")
	fs.DurationVar(&c.timeout, "timeout", 10*time.Second, "overall request timeout")
	fs.StringVar(&q.password, "password", "", "password, hashed before it is sent")
	for _, op := range []string{"create", "lookup", "reverse-lookup", "modify", "delete", "get"} {
		ops[op] = fs.String(op, "", op+" query")
	}
	// flags may follow positional words, as in --create name Real Name --password pw
	var positional []string
	for rest := args; ; {
		if err := fs.Parse(rest); err != nil {
			return nil, q, err
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		rest = fs.Args()[1:]
	}

	for op, v := range ops {
		if *v == "" {
			continue
		}
		if q.op != "" {
			return nil, q, errUsage
		}
		q.op, q.name = op, *v
	}
	if q.op == "" {
		return nil, q, errUsage
	}

	switch q.op {
	case "create":
		q.extra = strings.Join(positional, " ")
	case "modify":
		if len(positional) != 1 {
			return nil, q, errors.New("--modify needs the old and the new login name")
		}
		q.extra = positional[0]
	}
	if (q.op == "create" || q.op == "modify" || q.op == "delete") && q.password == "" {
		return nil, q, fmt.Errorf("--%s needs --password", q.op)
	}

	for _, s := range strings.Split(servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			c.servers = append(c.servers, s)
		}
	}
	if len(c.servers) == 0 {
		return nil, q, errors.New("no servers given (-s)")
	}
	return c, q, nil
}

// hashPassword returns the hex SHA-256 digest that servers store.
func hashPassword(pw string) string {
	sum := sha256.Sum256([]byte(pw))
	return hex.EncodeToString(sum[:])
}

// gateway returns the gateway base URL of host, which may carry an RPC
// port that is replaced by the gateway port.
func (c *client) gateway(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.port))
}

func (c *client) do(ctx context.Context, q query) (cluster.Response, error) {
	switch q.op {
	case "create", "modify", "delete":
		return c.write(ctx, q)
	}

	var path string
	switch q.op {
	case "lookup":
		path = "/users/" + url.PathEscape(q.name)
	case "reverse-lookup":
		path = "/ids/" + url.PathEscape(q.name)
	case "get":
		path = "/list/" + url.PathEscape(q.name)
	}

	var lastErr error
	for _, s := range c.servers {
		var resp cluster.Response
		if lastErr = cluster.GetJSON(ctx, c.gateway(s)+path, &resp); lastErr == nil {
			return resp, nil
		}
	}
	return cluster.Response{}, fmt.Errorf("no server answered: %w", lastErr)
}

// write finds the coordinator and sends q there, following one
// NotCoordinator redirect.
func (c *client) write(ctx context.Context, q query) (cluster.Response, error) {
	coordinator, err := c.coordinator(ctx)
	if err != nil {
		return cluster.Response{}, err
	}

	resp, err := c.send(ctx, c.gateway(coordinator), q)
	if err != nil {
		return resp, err
	}
	if resp.Status == cluster.NotCoordinator && resp.Text != "" && resp.Text != coordinator {
		return c.send(ctx, c.gateway(resp.Text), q)
	}
	return resp, nil
}

func (c *client) coordinator(ctx context.Context) (string, error) {
	var lastErr error
	for _, s := range c.servers {
		var resp cluster.Response
		lastErr = cluster.GetJSON(ctx, c.gateway(s)+"/coordinator", &resp)
		if lastErr == nil && resp.OK() && resp.Text != "" {
			return resp.Text, nil
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("%s: %s", s, resp.Text)
		}
	}
	return "", fmt.Errorf("no coordinator found: %w", lastErr)
}

func (c *client) send(ctx context.Context, base string, q query) (cluster.Response, error) {
	var resp cluster.Response
	cred := hashPassword(q.password)
	var err error
	switch q.op {
	case "create":
		err = cluster.PostJSON(ctx, base+"/users",
			cluster.CreateArgs{LoginName: q.name, DisplayName: q.extra, Credential: cred}, &resp)
	case "modify":
		err = cluster.DoJSON(ctx, http.MethodPut, base+"/users/"+url.PathEscape(q.name),
			cluster.ModifyArgs{NewName: q.extra, Credential: cred}, &resp)
	case "delete":
		err = cluster.DoJSON(ctx, http.MethodDelete, base+"/users/"+url.PathEscape(q.name),
			cluster.DeleteArgs{Credential: cred}, &resp)
	}
	return resp, err
}

func render(out io.Writer, q query, resp cluster.Response) {
	if !resp.OK() {
		msg := resp.Status.String()
		if resp.Text != "" {
			msg += ": " + resp.Text
		}
		fmt.Fprintln(out, "Error:", msg)
		return
	}

	switch q.op {
	case "create":
		fmt.Fprintf(out, "Created %s with UUID %s\n", q.name, resp.Text)
	case "modify":
		fmt.Fprintf(out, "Renamed %s to %s\n", q.name, q.extra)
	case "delete":
		fmt.Fprintf(out, "Deleted %s\n", q.name)
	case "lookup", "reverse-lookup":
		if resp.Record != nil {
			fmt.Fprintln(out, resp.Record.String())
		}
	case "get":
		for _, line := range resp.Listing {
			fmt.Fprintln(out, line)
		}
	}
}
