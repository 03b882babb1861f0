package dhcp4server

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/renameio/v2/maybe"
	"github.com/google/uuid"
)

// dataVersion is the current version of the stored lease-database
// structure.
const dataVersion = 1

// databasePerm is the permission bits for the database file.
const databasePerm fs.FileMode = 0o640

// dataLeases is the on-disk structure of the persisted lease database.
type dataLeases struct {
	SnapshotID string     `json:"snapshot_id"`
	Leases     []*dbLease `json:"leases"`
	Version    int        `json:"version"`
}

// dbLease is the on-disk representation of a [Lease].
type dbLease struct {
	ClientID  string     `json:"client_id"`
	IP        netip.Addr `json:"ip"`
	HWAddr    string     `json:"mac"`
	Hostname  string     `json:"hostname,omitempty"`
	Lease     int64      `json:"lease_seconds"`
	Renewal   int64      `json:"renewal_seconds"`
	Rebinding int64      `json:"rebinding_seconds"`
	Expiry    string     `json:"expires"`
	State     leaseState `json:"state"`
}

func toDBLease(l *Lease) (dl *dbLease) {
	return &dbLease{
		ClientID:  clientKey(l.ClientID),
		IP:        l.IP,
		HWAddr:    l.HWAddr.String(),
		Hostname:  l.Hostname,
		Lease:     int64(l.LeaseTime.Seconds()),
		Renewal:   int64(l.RenewalTime.Seconds()),
		Rebinding: int64(l.RebindingTime.Seconds()),
		Expiry:    l.Expiry.Format(time.RFC3339),
		State:     l.State,
	}
}

func (dl *dbLease) toInternal() (l *Lease, err error) {
	mac, err := net.ParseMAC(dl.HWAddr)
	if err != nil {
		return nil, fmt.Errorf("parsing hardware address: %w", err)
	}

	expiry, err := time.Parse(time.RFC3339, dl.Expiry)
	if err != nil {
		return nil, fmt.Errorf("parsing expiry time: %w", err)
	}

	return &Lease{
		ClientID:      []byte(dl.ClientID),
		IP:            dl.IP,
		HWAddr:        mac,
		Hostname:      dl.Hostname,
		LeaseTime:     time.Duration(dl.Lease) * time.Second,
		RenewalTime:   time.Duration(dl.Renewal) * time.Second,
		RebindingTime: time.Duration(dl.Rebinding) * time.Second,
		Expiry:        expiry,
		State:         dl.State,
	}, nil
}

// load populates db from db.dbFilePath.  A missing file is not an error:
// it means no prior run has persisted a database yet.
func (db *Database) load(ctx context.Context) (err error) {
	defer func() { err = errors.Annotate(err, "loading db: %w") }()

	file, err := os.Open(db.dbFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			db.logger.DebugContext(ctx, "no lease db file found")

			return nil
		}

		return fmt.Errorf("opening db: %w", err)
	}
	defer func() {
		err = errors.WithDeferred(err, file.Close())
	}()

	dl := &dataLeases{}
	err = json.NewDecoder(file).Decode(dl)
	if err != nil {
		return fmt.Errorf("decoding db: %w", err)
	}

	for i, stored := range dl.Leases {
		l, convErr := stored.toInternal()
		if convErr != nil {
			db.logger.WarnContext(ctx, "converting stored lease", "idx", i, slogutil.KeyError, convErr)

			continue
		}

		db.byClient[clientKey(l.ClientID)] = l
		db.byAddr[l.IP] = l
	}

	db.logger.InfoContext(ctx, "loaded lease db", "snapshot_id", dl.SnapshotID, "leases", len(dl.Leases))

	return nil
}

// store persists db's current leases to db.dbFilePath.  It is a no-op
// when no path is configured.  The caller must hold db.mu.
func (db *Database) store(ctx context.Context) (err error) {
	if db.dbFilePath == "" {
		return nil
	}

	defer func() { err = errors.Annotate(err, "writing db: %w") }()

	dl := &dataLeases{
		// uuid.NewString stamps each snapshot with an opaque identifier so
		// operators can correlate a log line with the exact file revision
		// that produced it.
		SnapshotID: uuid.NewString(),
		Leases:     make([]*dbLease, 0, len(db.byAddr)),
		Version:    dataVersion,
	}

	for _, l := range db.byAddr {
		dl.Leases = append(dl.Leases, toDBLease(l))
	}

	buf, err := json.Marshal(dl)
	if err != nil {
		return err
	}

	err = maybe.WriteFile(db.dbFilePath, buf, databasePerm)
	if err != nil {
		return err
	}

	db.logger.DebugContext(ctx, "stored lease db", "snapshot_id", dl.SnapshotID, "leases", len(dl.Leases))

	return nil
}
