package dbman

import "errors"

// ErrDryRunWithoutBackup is returned when a dry run is requested without a
// backup. The dry run protocol restores the backup afterwards, so there is
// nothing safe to run against otherwise.
var ErrDryRunWithoutBackup = errors.New("dry run requires a backup")
