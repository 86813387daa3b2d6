package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrColumnMismatch    = errors.New("foreign key column count mismatch")
	ErrUnknownTarget     = errors.New("foreign key target is not a declared unique key")
	ErrDuplicateName     = errors.New("duplicate constraint name")
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// pg trunca los nombres de constraint a 63 bytes.
const maxIdentLen = 63

// Action es la regla referencial de ON DELETE / ON UPDATE.
type Action string

const (
	NoAction Action = "NO ACTION"
	Restrict Action = "RESTRICT"
	Cascade  Action = "CASCADE"
	SetNull  Action = "SET NULL"
)

// UniqueKey declara una clave unica compuesta.
type UniqueKey struct {
	Table   string
	Columns []string
}

func (u UniqueKey) Name() string {
	return constraintName(u.Table, u.Columns, "key")
}

// ForeignKey declara una relacion multi-columna hacia una clave unica de otra tabla.
type ForeignKey struct {
	Table      string
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   Action
	OnUpdate   Action
}

func (f ForeignKey) Name() string {
	return constraintName(f.Table, f.Columns, "fkey")
}

// Set agrupa las restricciones que se aplican fuera de las migraciones.
type Set struct {
	Unique  []UniqueKey
	Foreign []ForeignKey
}

func constraintName(table string, columns []string, suffix string) string {
	name := table + "_" + strings.Join(columns, "_") + "_" + suffix
	if len(name) > maxIdentLen {
		name = name[:maxIdentLen]
	}
	return name
}

// Validate revisa identificadores y que cada foreign key apunte a una clave unica declarada
// o a la primary key id de la tabla destino.
func (s Set) Validate() error {
	seen := make(map[string]struct{})
	declared := make(map[string]struct{})

	for _, u := range s.Unique {
		if err := checkIdents(u.Table, u.Columns); err != nil {
			return err
		}
		if err := claim(seen, u.Name()); err != nil {
			return err
		}
		declared[targetKey(u.Table, u.Columns)] = struct{}{}
	}

	for _, f := range s.Foreign {
		if err := checkIdents(f.Table, f.Columns); err != nil {
			return err
		}
		if err := checkIdents(f.RefTable, f.RefColumns); err != nil {
			return err
		}
		if len(f.Columns) != len(f.RefColumns) {
			return fmt.Errorf("%w: %s", ErrColumnMismatch, f.Name())
		}
		isPrimary := len(f.RefColumns) == 1 && f.RefColumns[0] == "id"
		if _, ok := declared[targetKey(f.RefTable, f.RefColumns)]; !ok && !isPrimary {
			return fmt.Errorf("%w: %s(%s)", ErrUnknownTarget, f.RefTable, strings.Join(f.RefColumns, ", "))
		}
		if err := claim(seen, f.Name()); err != nil {
			return err
		}
	}
	return nil
}

func checkIdents(table string, columns []string) error {
	if !identRe.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, table)
	}
	if len(columns) == 0 {
		return fmt.Errorf("%w: %s has no columns", ErrInvalidIdentifier, table)
	}
	for _, c := range columns {
		if !identRe.MatchString(c) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, c)
		}
	}
	return nil
}

func claim(seen map[string]struct{}, name string) error {
	if _, dup := seen[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	seen[name] = struct{}{}
	return nil
}

// targetKey ignora el orden de columnas: una FK puede referenciar la clave en otro orden.
func targetKey(table string, columns []string) string {
	cols := append([]string(nil), columns...)
	sort.Strings(cols)
	return table + "(" + strings.Join(cols, ",") + ")"
}

// Compile genera sentencias idempotentes: primero las claves unicas, luego las foreign keys.
func (s Set) Compile() ([]string, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	stmts := make([]string, 0, len(s.Unique)+len(s.Foreign))
	for _, u := range s.Unique {
		alter := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)",
			quote(u.Table), quote(u.Name()), quoteList(u.Columns))
		stmts = append(stmts, guarded(u.Table, u.Name(), alter))
	}
	for _, f := range s.Foreign {
		alter := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s ON UPDATE %s",
			quote(f.Table), quote(f.Name()), quoteList(f.Columns),
			quote(f.RefTable), quoteList(f.RefColumns),
			actionOrDefault(f.OnDelete), actionOrDefault(f.OnUpdate))
		stmts = append(stmts, guarded(f.Table, f.Name(), alter))
	}
	return stmts, nil
}

func guarded(table, name, alter string) string {
	return fmt.Sprintf(`DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM pg_constraint
        WHERE conname = '%s' AND conrelid = '%s'::regclass
    ) THEN
        %s;
    END IF;
END $$;`, name, table, alter)
}

func actionOrDefault(a Action) Action {
	if a == "" {
		return NoAction
	}
	return a
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func quoteList(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = quote(id)
	}
	return strings.Join(quoted, ", ")
}
