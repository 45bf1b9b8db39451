package expand

import (
	"encoding/binary"

	"github.com/Amaranese/ocak-go/machotypes"
)

// StripLoadCommands removes every load command in
// machotypes.StrippableCommands from buf in place, compacting the
// remaining commands and decrementing the header's command count and
// total command size, mirroring InternalStripLoadCommands64's memmove-based
// compaction.
func StripLoadCommands(buf []byte) {
	order := binary.LittleEndian

	nCommands := order.Uint32(buf[16:20])
	sizeCommands := order.Uint32(buf[20:24])
	originalSize := sizeCommands

	pos := machotypes.FileHeaderSize64
	remaining := nCommands

	for i := uint32(0); i < nCommands; i++ {
		cmd := machotypes.LoadCmd(order.Uint32(buf[pos : pos+4]))
		cmdSize := order.Uint32(buf[pos+4 : pos+8])

		if machotypes.StrippableCommands[cmd] {
			next := pos + int(cmdSize)
			tail := machotypes.FileHeaderSize64 + int(sizeCommands) - next
			copy(buf[pos:pos+tail], buf[next:next+tail])

			remaining--
			sizeCommands -= cmdSize
			// Re-examine the command now occupying pos; don't advance.
			continue
		}

		pos += int(cmdSize)
	}

	order.PutUint32(buf[16:20], remaining)
	order.PutUint32(buf[20:24], sizeCommands)

	tailStart := machotypes.FileHeaderSize64 + int(sizeCommands)
	tailEnd := machotypes.FileHeaderSize64 + int(originalSize)
	for i := tailStart; i < tailEnd; i++ {
		buf[i] = 0
	}
}
