package prelink

import "errors"

// ErrStorageMissing names the failure of an enabled AddKextEntry whose plist
// or executable the Storage collaborator cannot read, mirroring
// OcKernelLoadKextsAndReserve's "Plist %s is missing" failure path.
// LoadKextsAndReserve does not return it: it clears the entry's Enabled
// flag instead.
var ErrStorageMissing = errors.New("prelink: kext plist or executable file is missing")
