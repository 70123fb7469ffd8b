package specification

import "github.com/sead-project/clearinghouse-import/internal/schema"

// compatKey pairs a schema column type with the runtime kind of the value
// actually found in the submission cell.
type compatKey struct {
	columnType schema.DataType
	valueDType string
}

// typeCompatibility says whether a schema-declared column type may hold a
// value of the given runtime kind without warning. Unlisted pairs default to
// incompatible.
var typeCompatibility = map[compatKey]bool{
	{schema.TypeInteger, "float64"}:                  true,
	{schema.TypeTimestampWithTimeZone, "float64"}:    false,
	{schema.TypeText, "float64"}:                     false,
	{schema.TypeCharacterVarying, "float64"}:         false,
	{schema.TypeNumeric, "float64"}:                  true,
	{schema.TypeTimestampWithoutTimeZone, "float64"}: false,
	{schema.TypeBoolean, "float64"}:                  false,
	{schema.TypeDate, "float64"}:                     false,
	{schema.TypeSmallint, "float64"}:                 true,

	{schema.TypeInteger, "object"}:                  false,
	{schema.TypeTimestampWithTimeZone, "object"}:    true,
	{schema.TypeText, "object"}:                     true,
	{schema.TypeCharacterVarying, "object"}:         true,
	{schema.TypeNumeric, "object"}:                  false,
	{schema.TypeTimestampWithoutTimeZone, "object"}: true,
	{schema.TypeBoolean, "object"}:                  false,
	{schema.TypeDate, "object"}:                     true,
	{schema.TypeSmallint, "object"}:                 false,

	{schema.TypeBigint, "int64"}:                    true,
	{schema.TypeInteger, "int64"}:                   true,
	{schema.TypeTimestampWithTimeZone, "int64"}:      false,
	{schema.TypeText, "int64"}:                      false,
	{schema.TypeCharacterVarying, "int64"}:          false,
	{schema.TypeNumeric, "int64"}:                   true,
	{schema.TypeTimestampWithoutTimeZone, "int64"}:  false,
	{schema.TypeBoolean, "int64"}:                   false,
	{schema.TypeDate, "int64"}:                      false,
	{schema.TypeSmallint, "int64"}:                  true,

	{schema.TypeTimestampWithTimeZone, "datetime64"}: true,
	{schema.TypeDate, "datetime64"}:                  true,
}

func compatible(columnType schema.DataType, valueDType string) bool {
	return typeCompatibility[compatKey{columnType, valueDType}]
}
