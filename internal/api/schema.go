package api

import (
	"net/http"
	"time"

	"github.com/duckmesh/dbchat/internal/auth"
	"github.com/duckmesh/dbchat/internal/schema"
)

type schemaTable struct {
	Name        string                       `json:"table_name"`
	Columns     []schema.Column              `json:"columns"`
	PrimaryKey  []string                     `json:"primary_key"`
	ForeignKeys map[string]schema.ForeignKey `json:"foreign_keys"`
}

type schemaResponse struct {
	Tables      []schemaTable `json:"tables"`
	BuiltAt     time.Time     `json:"built_at"`
	RefreshedAt time.Time     `json:"refreshed_at"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema cache is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleChatUser); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	snapshot, err := deps.Schema.Snapshot(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", "database schema could not be loaded", true, nil)
		return
	}

	response := schemaResponse{Tables: []schemaTable{}, BuiltAt: snapshot.BuiltAt}
	if _, refreshedAt, ok := deps.Schema.Peek(); ok {
		response.RefreshedAt = refreshedAt
	}
	for _, name := range snapshot.TableNames() {
		table := snapshot.Tables[name]
		foreignKeys := table.ForeignKeys
		if foreignKeys == nil {
			foreignKeys = map[string]schema.ForeignKey{}
		}
		primaryKey := table.PrimaryKey
		if primaryKey == nil {
			primaryKey = []string{}
		}
		response.Tables = append(response.Tables, schemaTable{
			Name:        table.Name,
			Columns:     table.OrderedColumns(),
			PrimaryKey:  primaryKey,
			ForeignKeys: foreignKeys,
		})
	}
	writeJSON(w, http.StatusOK, response)
}

func handleInvalidateSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema cache is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleSchemaAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	deps.Schema.Invalidate()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "invalidated"})
}
