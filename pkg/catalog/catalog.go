// Package catalog maintains the per-session mapping from replication
// relation ids to resolved table schemas, and the row validators derived
// from them.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/nodalflow/pgcdc/pkg/pgoutput"
)

// ColumnDefinition describes one column of a TableSchema.
type ColumnDefinition struct {
	Name       string
	PartOfPkey bool
	TypeID     uint32
	TypeName   string
	Optional   bool
}

// TableSchema is the resolved, cached schema for one relation id. Column
// order matches the order of the originating Relation message and every
// subsequent tuple for that relation.
type TableSchema struct {
	Database   string
	Namespace  string
	Table      string
	RelationID uint32
	Columns    []ColumnDefinition
}

// KeyColumns returns the columns with PartOfPkey=true, preserving schema
// order.
func (s *TableSchema) KeyColumns() []string {
	keys := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		if c.PartOfPkey {
			keys = append(keys, c.Name)
		}
	}
	return keys
}

// TypeResolver resolves type names and nullability from the source
// database. It is implemented by pkg/sourcedb.Handler; the catalog treats
// it as an external collaborator per the metadata-resolution queries.
type TypeResolver interface {
	FetchColumnType(ctx context.Context, typeID uint32, atttypmod int32) (string, error)
	FetchColumnOptional(ctx context.Context, namespace, table, column string) (bool, error)
}

type key struct {
	database   string
	relationID uint32
}

// Catalog is the in-memory (database, relation_id) -> TableSchema map, plus
// the per-relation row validators synthesised from each schema.
type Catalog struct {
	database string
	resolver TypeResolver

	mu         sync.RWMutex
	schemas    map[key]*TableSchema
	validators map[key]*pair

	typeNameMu    sync.Mutex
	typeNameCache map[typeKey]string
}

type pair struct {
	full *Validator
	key  *Validator
}

type typeKey struct {
	typeID    uint32
	atttypmod int32
}

// New returns a Catalog scoped to a single source database, resolving
// unseen types and nullability through resolver.
func New(database string, resolver TypeResolver) *Catalog {
	return &Catalog{
		database:      database,
		resolver:      resolver,
		schemas:       make(map[key]*TableSchema),
		validators:    make(map[key]*pair),
		typeNameCache: make(map[typeKey]string),
	}
}

// UpsertRelation resolves and installs the TableSchema for relMsg's
// relation id. If a schema already exists for this key it is returned
// unchanged, without re-querying the source (first-seen caching); DDL
// changes are out of scope and the protocol re-sends Relation before any
// affected tuple regardless.
func (c *Catalog) UpsertRelation(ctx context.Context, relMsg pgoutput.RelationMessage) (*TableSchema, error) {
	k := key{database: c.database, relationID: relMsg.RelationID}

	c.mu.RLock()
	if existing, ok := c.schemas[k]; ok {
		c.mu.RUnlock()
		return existing, nil
	}
	c.mu.RUnlock()

	columns := make([]ColumnDefinition, 0, len(relMsg.Columns))
	for _, col := range relMsg.Columns {
		typeName, err := c.resolveTypeName(ctx, col.DataType, col.TypeMod)
		if err != nil {
			return nil, fmt.Errorf("catalog: resolving type of %s.%s.%s: %w", relMsg.Namespace, relMsg.RelationName, col.Name, err)
		}
		optional, err := c.resolver.FetchColumnOptional(ctx, relMsg.Namespace, relMsg.RelationName, col.Name)
		if err != nil {
			return nil, fmt.Errorf("catalog: resolving nullability of %s.%s.%s: %w", relMsg.Namespace, relMsg.RelationName, col.Name, err)
		}
		columns = append(columns, ColumnDefinition{
			Name:       col.Name,
			PartOfPkey: col.PartOfKey(),
			TypeID:     col.DataType,
			TypeName:   typeName,
			Optional:   optional,
		})
	}

	schema := &TableSchema{
		Database:   c.database,
		Namespace:  relMsg.Namespace,
		Table:      relMsg.RelationName,
		RelationID: relMsg.RelationID,
		Columns:    columns,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// another goroutine may have raced us; prefer whichever landed first
	if existing, ok := c.schemas[k]; ok {
		return existing, nil
	}
	c.schemas[k] = schema
	c.validators[k] = &pair{
		full: newValidator(schema, false),
		key:  newValidator(schema, true),
	}
	return schema, nil
}

func (c *Catalog) resolveTypeName(ctx context.Context, typeID uint32, atttypmod int32) (string, error) {
	tk := typeKey{typeID: typeID, atttypmod: atttypmod}

	c.typeNameMu.Lock()
	if name, ok := c.typeNameCache[tk]; ok {
		c.typeNameMu.Unlock()
		return name, nil
	}
	c.typeNameMu.Unlock()

	name, err := c.resolver.FetchColumnType(ctx, typeID, atttypmod)
	if err != nil {
		return "", err
	}

	c.typeNameMu.Lock()
	c.typeNameCache[tk] = name
	c.typeNameMu.Unlock()
	return name, nil
}

// Schema returns the cached TableSchema for (database, relationID), if any.
func (c *Catalog) Schema(relationID uint32) (*TableSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[key{database: c.database, relationID: relationID}]
	return s, ok
}

// FullValidator returns the full-row validator for relationID.
func (c *Catalog) FullValidator(relationID uint32) (*Validator, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.validators[key{database: c.database, relationID: relationID}]
	if !ok {
		return nil, false
	}
	return p.full, true
}

// KeyValidator returns the key-only validator for relationID.
func (c *Catalog) KeyValidator(relationID uint32) (*Validator, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.validators[key{database: c.database, relationID: relationID}]
	if !ok {
		return nil, false
	}
	return p.key, true
}
