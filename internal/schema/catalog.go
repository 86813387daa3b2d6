package schema

// Constraints declara las claves compuestas del dominio. Una direccion existe una sola vez por
// comunidad; el contenido (threads, comments) siempre queda en la misma comunidad que la direccion autora.
func Constraints() Set {
	return Set{
		Unique: []UniqueKey{
			{Table: "addresses", Columns: []string{"id", "community_id"}},
			{Table: "addresses", Columns: []string{"community_id", "address"}},
			{Table: "threads", Columns: []string{"id", "community_id"}},
			{Table: "sso_tokens", Columns: []string{"issuer", "address_id"}},
		},
		Foreign: []ForeignKey{
			{
				Table:      "threads",
				Columns:    []string{"address_id", "community_id"},
				RefTable:   "addresses",
				RefColumns: []string{"id", "community_id"},
				OnDelete:   Restrict,
				OnUpdate:   Cascade,
			},
			{
				Table:      "comments",
				Columns:    []string{"address_id", "community_id"},
				RefTable:   "addresses",
				RefColumns: []string{"id", "community_id"},
				OnDelete:   Restrict,
				OnUpdate:   Cascade,
			},
			{
				Table:      "comments",
				Columns:    []string{"thread_id", "community_id"},
				RefTable:   "threads",
				RefColumns: []string{"id", "community_id"},
				OnDelete:   Cascade,
			},
		},
	}
}
