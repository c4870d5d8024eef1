// Package catalog stores table schemas in a B+Tree keyed by a hash of
// the table name, exactly as flintdb stores every other keyed structure.
package catalog

import (
	"encoding/json"
	"hash/fnv"

	"github.com/flint-db/flintdb/internal/dberr"
	"github.com/flint-db/flintdb/internal/storage/pager"
)

// Column describes one column of a table.
type Column struct {
	Name    string `json:"name"`
	Type    string `json:"type"` // "INTEGER", "TEXT", "BLOB"
	Primary bool   `json:"primary"`
}

// Schema is the persisted record for one table.
type Schema struct {
	Name          string   `json:"name"`
	Columns       []Column `json:"columns"`
	PrimaryColumn int      `json:"primary_column"` // -1 for an implicit rowid
	DataRoot      pager.PageID `json:"data_root"`
	AutoIncrement int32    `json:"auto_increment"`
	RowCount      int64    `json:"row_count"`
}

// Catalog is the single-tenant table directory for one database file.
// It is itself a B+Tree: key is fnv32(table name), value is the page
// holding the table's serialized Schema.
type Catalog struct {
	pg   *pager.Pager
	tree *pager.BTree
}

// Create allocates a brand-new, empty catalog. The caller must be
// within an active transaction.
func Create(pg *pager.Pager) (*Catalog, error) {
	tree, err := pager.CreateBTree(pg)
	if err != nil {
		return nil, err
	}
	return &Catalog{pg: pg, tree: tree}, nil
}

// Open wraps the catalog rooted at root (normally pg.Header().CatalogRoot).
func Open(pg *pager.Pager, root pager.PageID) *Catalog {
	return &Catalog{pg: pg, tree: pager.OpenBTree(pg, root)}
}

// Root returns the catalog B+Tree's current root page, to be persisted
// into the database header after any mutation.
func (c *Catalog) Root() pager.PageID { return c.tree.Root() }

func tableKey(name string) int32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int32(h.Sum32())
}

// CreateTable registers a new table. Returns SchemaError if the name is
// already taken (including the unlikely case of a hash collision with a
// different table, which is resolved by comparing the stored name).
func (c *Catalog) CreateTable(schema Schema) error {
	if _, ok, err := c.LookupTable(schema.Name); err != nil {
		return err
	} else if ok {
		return dberr.SchemaError("table already exists: " + schema.Name)
	}
	if _, found, err := c.tree.Search(tableKey(schema.Name)); err != nil {
		return err
	} else if found {
		return dberr.SchemaError("table name hash collides with an existing table: " + schema.Name)
	}

	recordPage, err := c.pg.AllocatePage()
	if err != nil {
		return err
	}
	if err := c.pg.MarkDirty(recordPage.ID); err != nil {
		c.pg.UnpinPage(recordPage.ID)
		return err
	}
	if err := writeSchema(recordPage, schema); err != nil {
		c.pg.UnpinPage(recordPage.ID)
		return err
	}
	c.pg.UnpinPage(recordPage.ID)

	return c.tree.Insert(tableKey(schema.Name), uint32(recordPage.ID))
}

// DropTable removes a table's schema record from the catalog. It does
// not free the table's data pages; flintdb has no free list.
func (c *Catalog) DropTable(name string) error {
	return c.tree.Delete(tableKey(name))
}

// LookupTable returns a table's schema, if registered.
func (c *Catalog) LookupTable(name string) (Schema, bool, error) {
	recordID, found, err := c.tree.Search(tableKey(name))
	if err != nil || !found {
		return Schema{}, false, err
	}
	page, err := c.pg.GetPage(pager.PageID(recordID))
	if err != nil {
		return Schema{}, false, err
	}
	defer c.pg.UnpinPage(pager.PageID(recordID))
	schema, err := readSchema(page)
	if err != nil {
		return Schema{}, false, err
	}
	if schema.Name != name {
		// Hash collision with a different table name; treat as absent.
		return Schema{}, false, nil
	}
	return schema, true, nil
}

// PersistSchema rewrites an existing table's schema record in place —
// used after a data-table Insert/Delete updates DataRoot, AutoIncrement
// or RowCount.
func (c *Catalog) PersistSchema(schema Schema) error {
	recordID, found, err := c.tree.Search(tableKey(schema.Name))
	if err != nil {
		return err
	}
	if !found {
		return dberr.NotFound("table not found: " + schema.Name)
	}
	page, err := c.pg.GetPage(pager.PageID(recordID))
	if err != nil {
		return err
	}
	defer c.pg.UnpinPage(pager.PageID(recordID))
	if err := c.pg.MarkDirty(pager.PageID(recordID)); err != nil {
		return err
	}
	return writeSchema(page, schema)
}

// ListTables scans the full int32 key space; acceptable for a catalog
// sized in the tens to low thousands of tables.
func (c *Catalog) ListTables() ([]Schema, error) {
	var out []Schema
	err := c.tree.ScanRange(-2147483648, 2147483647, func(_ int32, value uint32) error {
		page, err := c.pg.GetPage(pager.PageID(value))
		if err != nil {
			return err
		}
		defer c.pg.UnpinPage(pager.PageID(value))
		schema, err := readSchema(page)
		if err != nil {
			return err
		}
		out = append(out, schema)
		return nil
	})
	return out, err
}

func writeSchema(page *pager.Page, schema Schema) error {
	enc, err := json.Marshal(schema)
	if err != nil {
		return dberr.SchemaError("encode schema: " + err.Error())
	}
	if len(enc)+12 > pager.PageSize-4 {
		return dberr.SchemaError("schema record too large for one page")
	}
	for i := range page.Buf[:12] {
		page.Buf[i] = 0
	}
	copy(page.Buf[12:], enc)
	for i := 12 + len(enc); i < pager.PageSize; i++ {
		page.Buf[i] = 0
	}
	page.SetCRC()
	return nil
}

func readSchema(page *pager.Page) (Schema, error) {
	if err := page.VerifyCRC(); err != nil {
		return Schema{}, err
	}
	// Schema records are JSON text terminated implicitly by the
	// trailing NUL padding writeSchema leaves behind.
	raw := page.Buf[12:]
	end := 0
	for end < len(raw) && raw[end] != 0 {
		end++
	}
	var schema Schema
	if err := json.Unmarshal(raw[:end], &schema); err != nil {
		return Schema{}, dberr.CorruptionError("decode schema", err)
	}
	return schema, nil
}
