// Package transaction is the XA boundary of the engine. Transaction
// semantics belong to an external Manager; Service forwards every call to it
// and tracks which transaction context each session's atomic requests run in.
package transaction

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ajitpratap0/federate/pkg/errors"
)

// Maximum lengths of the global transaction id and branch qualifier
const (
	MaxGTRIDSize = 64
	MaxBQUALSize = 64
)

// XA flags passed to Start, End and Recover
const (
	TMNoFlags    = 0x00000000
	TMEndRScan   = 0x00800000
	TMStartRScan = 0x01000000
	TMSuspend    = 0x02000000
	TMSuccess    = 0x04000000
	TMResume     = 0x08000000
	TMFail       = 0x20000000
	TMOnePhase   = 0x40000000
	TMJoin       = 0x00200000
)

// Prepare votes
const (
	XAOK     = 0
	XARdOnly = 3
)

// Xid identifies a global transaction branch.
type Xid struct {
	FormatID            int32
	GlobalTransactionID []byte
	BranchQualifier     []byte
}

// String renders the xid as formatID:gtrid:bqual with hex encoded ids
func (x Xid) String() string {
	return fmt.Sprintf("%d:%s:%s", x.FormatID,
		hex.EncodeToString(x.GlobalTransactionID), hex.EncodeToString(x.BranchQualifier))
}

// Validate checks the id lengths
func (x Xid) Validate() error {
	if len(x.GlobalTransactionID) == 0 {
		return errors.New(errors.ErrorTypeTransaction, "xid has no global transaction id")
	}
	if len(x.GlobalTransactionID) > MaxGTRIDSize {
		return errors.Newf(errors.ErrorTypeTransaction, "global transaction id exceeds %d bytes", MaxGTRIDSize)
	}
	if len(x.BranchQualifier) > MaxBQUALSize {
		return errors.Newf(errors.ErrorTypeTransaction, "branch qualifier exceeds %d bytes", MaxBQUALSize)
	}
	return nil
}

// ParseXid parses the form produced by Xid.String
func ParseXid(s string) (Xid, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Xid{}, errors.New(errors.ErrorTypeValidation, "xid must have the form formatID:gtrid:bqual").
			WithDetail("xid", s)
	}
	format, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return Xid{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid xid format id").WithDetail("xid", s)
	}
	gtrid, err := hex.DecodeString(parts[1])
	if err != nil {
		return Xid{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid global transaction id").WithDetail("xid", s)
	}
	bqual, err := hex.DecodeString(parts[2])
	if err != nil {
		return Xid{}, errors.Wrap(err, errors.ErrorTypeValidation, "invalid branch qualifier").WithDetail("xid", s)
	}
	x := Xid{FormatID: int32(format), GlobalTransactionID: gtrid, BranchQualifier: bqual}
	return x, x.Validate()
}
