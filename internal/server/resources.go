package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/SedlarDavid/azuresql-mcp/internal/db"
	"github.com/SedlarDavid/azuresql-mcp/internal/mcperr"
)

// schemaSnapshot is the database://schema resource payload.
type schemaSnapshot struct {
	GeneratedAt time.Time     `json:"generated_at"`
	TableCount  int           `json:"table_count"`
	Tables      []tableSchema `json:"tables"`
}

type tableSchema struct {
	Name     string          `json:"name"`
	RowCount int64           `json:"row_count"`
	Columns  []db.ColumnInfo `json:"columns"`
}

func (h *handlers) registerResources(s *server.MCPServer) {
	s.AddResource(mcp.NewResource(
		"database://schema",
		"Database Schema",
		mcp.WithResourceDescription("Full schema snapshot: every table with columns and row counts"),
		mcp.WithMIMEType("application/json"),
	), h.resource(h.schemaResource))

	s.AddResource(mcp.NewResource(
		"database://status",
		"Database Status",
		mcp.WithResourceDescription("Server identity plus the live health snapshot"),
		mcp.WithMIMEType("application/json"),
	), h.resource(h.statusResource))

	s.AddResource(mcp.NewResource(
		"database://tables",
		"Table List",
		mcp.WithResourceDescription("Plain list of queryable tables"),
		mcp.WithMIMEType("text/plain"),
	), h.resource(h.tablesResource))
}

// resource adapts a body returning (mime, text) into the mcp-go handler
// shape, applying the request timeout and the sanitized error policy.
func (h *handlers) resource(fn func(ctx context.Context) (string, string, error)) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		start := time.Now()
		ctx, cancel := context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()

		mime, text, err := fn(ctx)
		h.metrics.Track(time.Since(start), err == nil)
		if err != nil {
			return nil, fmt.Errorf("%s", mcperr.Message(err))
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: mime,
				Text:     text,
			},
		}, nil
	}
}

func (h *handlers) schemaResource(ctx context.Context) (string, string, error) {
	var snap schemaSnapshot
	err := h.mgr.WithSession(ctx, func(d db.Driver) error {
		tables, err := d.ListTables(ctx)
		if err != nil {
			return execErr(err)
		}
		snap = schemaSnapshot{
			GeneratedAt: time.Now().UTC(),
			TableCount:  len(tables),
			Tables:      make([]tableSchema, 0, len(tables)),
		}
		for _, t := range tables {
			cols, err := d.DescribeTable(ctx, t)
			if err != nil {
				return execErr(err)
			}
			rows, err := d.RowCount(ctx, t)
			if err != nil {
				return execErr(err)
			}
			snap.Tables = append(snap.Tables, tableSchema{Name: t, RowCount: rows, Columns: cols})
		}
		return nil
	})
	if err != nil {
		return "", "", err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", "", mcperr.Wrap(mcperr.KindExecution, "encoding schema snapshot", err)
	}
	return "application/json", string(data), nil
}

func (h *handlers) statusResource(ctx context.Context) (string, string, error) {
	payload := map[string]any{
		"target": h.target,
		"health": h.metrics.Snapshot(h.mgr.State().String()),
	}
	err := h.mgr.WithSession(ctx, func(d db.Driver) error {
		info, err := d.ServerInfo(ctx)
		if err != nil {
			return execErr(err)
		}
		payload["database"] = info.DatabaseName
		payload["version"] = firstLine(info.Version)
		payload["edition"] = info.Edition
		payload["tables"] = info.TableCount
		payload["views"] = info.ViewCount
		return nil
	})
	if err != nil {
		// Status stays readable while the session is down; the health block
		// carries the degraded state.
		payload["error"] = mcperr.Message(err)
	}
	data, merr := json.MarshalIndent(payload, "", "  ")
	if merr != nil {
		return "", "", mcperr.Wrap(mcperr.KindExecution, "encoding status", merr)
	}
	return "application/json", string(data), nil
}

func (h *handlers) tablesResource(ctx context.Context) (string, string, error) {
	var out string
	err := h.mgr.WithSession(ctx, func(d db.Driver) error {
		tables, err := d.ListTables(ctx)
		if err != nil {
			return execErr(err)
		}
		out = strings.Join(tables, "\n")
		return nil
	})
	if err != nil {
		return "", "", err
	}
	return "text/plain", out, nil
}
