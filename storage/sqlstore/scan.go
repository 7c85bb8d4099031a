package sqlstore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var nowUTC = func() time.Time { return time.Now().UTC() }

// dbUUID scans ids stored natively, as 16 raw bytes or as text. NULL scans to uuid.Nil.
type dbUUID uuid.UUID

func (u *dbUUID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*u = dbUUID(uuid.Nil)
		return nil
	case []byte:
		if len(v) == 16 {
			id, err := uuid.FromBytes(v)
			if err != nil {
				return err
			}
			*u = dbUUID(id)
			return nil
		}
		return u.parse(string(v))
	case string:
		return u.parse(v)
	case [16]byte:
		*u = dbUUID(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into uuid", src)
	}
}

func (u *dbUUID) parse(s string) error {
	id, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("scanning uuid: %w", err)
	}
	*u = dbUUID(id)
	return nil
}

// nullableString scans NULL to the empty string.
type nullableString string

func (s *nullableString) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = ""
	case []byte:
		*s = nullableString(v)
	case string:
		*s = nullableString(v)
	default:
		return fmt.Errorf("cannot scan %T into string", src)
	}
	return nil
}
