package machotypes

// LoadCmd is the load_command cmd field.
type LoadCmd uint32

const (
	LcSegment64          LoadCmd = 0x19
	LcSymtab             LoadCmd = 0x2
	LcDysymtab           LoadCmd = 0xb
	LcUUID               LoadCmd = 0x1b
	LcUnixThread         LoadCmd = 0x5
	LcCodeSignature      LoadCmd = 0x1d
	LcDyldInfo           LoadCmd = 0x22
	LcDyldInfoOnly       LoadCmd = 0x80000022
	LcFunctionStarts     LoadCmd = 0x26
	LcDataInCode         LoadCmd = 0x29
	LcDylibCodeSignDrs   LoadCmd = 0x2b
)

// LoadCmdHdr is the common load_command prefix every command starts with.
type LoadCmdHdr struct {
	Cmd     LoadCmd
	CmdSize uint32
}

const LoadCmdHdrSize = 8

// VMProt mirrors vm_prot_t: read/write/execute bits on a segment.
type VMProt uint32

const (
	VMProtRead    VMProt = 0x1
	VMProtWrite   VMProt = 0x2
	VMProtExecute VMProt = 0x4
)

// SegmentCommand64 is a 64-bit LC_SEGMENT_64 load command, sized without its
// trailing section_64 array (read separately via NSects).
type SegmentCommand64 struct {
	LoadCmdHdr
	SegName  [16]byte
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
	MaxProt  VMProt
	InitProt VMProt
	NSects   uint32
	Flags    uint32
}

const SegmentCommand64Size = LoadCmdHdrSize + 16 + 8*4 + 4*4

// Section64 is one section_64 record trailing a SegmentCommand64.
type Section64 struct {
	SectName  [16]byte
	SegName   [16]byte
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	RelOff    uint32
	NReloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
	Reserved3 uint32
}

const Section64Size = 16 + 16 + 8 + 8 + 4*8

// SymtabCommand is LC_SYMTAB.
type SymtabCommand struct {
	LoadCmdHdr
	SymOff  uint32
	NSyms   uint32
	StrOff  uint32
	StrSize uint32
}

const SymtabCommandSize = LoadCmdHdrSize + 4*4

// DysymtabCommand is LC_DYSYMTAB.
type DysymtabCommand struct {
	LoadCmdHdr
	ILocalSym      uint32
	NLocalSym      uint32
	IExtdefSym     uint32
	NExtdefSym     uint32
	IUndefSym      uint32
	NUndefSym      uint32
	TocOff         uint32
	NToc           uint32
	ModTabOff      uint32
	NModTab        uint32
	ExtRefSymOff   uint32
	NExtRefSyms    uint32
	IndirectSymOff uint32
	NIndirectSyms  uint32
	ExtRelOff      uint32
	NExtRel        uint32
	LocRelOff      uint32
	NLocRel        uint32
}

const DysymtabCommandSize = LoadCmdHdrSize + 18*4

// UUIDCommand is LC_UUID.
type UUIDCommand struct {
	LoadCmdHdr
	UUID [16]byte
}

const UUIDCommandSize = LoadCmdHdrSize + 16

// UnixThreadCommand is LC_UNIXTHREAD, without the flavor-specific register
// state that follows Flavor/Count in the command. For x86_64 (flavor
// x86_THREAD_STATE64) Count is 42 32-bit words, i.e. 21 64-bit registers
// in Apple's fixed order, rip at 64-bit index 16.
type UnixThreadCommand struct {
	LoadCmdHdr
	Flavor uint32
	Count  uint32
}

const UnixThreadCommandSize = LoadCmdHdrSize + 8

const (
	X86ThreadStateCount  = 42
	X86ThreadStateRipIdx = 16
)

// LinkEditDataCommand covers the strip-eligible commands that share the
// linkedit_data_command layout: code signature, dyld info/dyld info only,
// function starts, data in code, dylib code-sign DRs.
type LinkEditDataCommand struct {
	LoadCmdHdr
	DataOff  uint32
	DataSize uint32
}

const LinkEditDataCommandSize = LoadCmdHdrSize + 8

// StrippableCommands is the set of load commands that carry no semantic
// value once a kernel image has been expanded into a runtime image, and are
// removed by expand.StripLoadCommands.
var StrippableCommands = map[LoadCmd]bool{
	LcCodeSignature:    true,
	LcDyldInfo:         true,
	LcDyldInfoOnly:     true,
	LcFunctionStarts:   true,
	LcDataInCode:       true,
	LcDylibCodeSignDrs: true,
}

// Nlist64 is a 64-bit symbol table entry.
type Nlist64 struct {
	StrX  uint32
	Type  uint8
	Sect  uint8
	Desc  uint16
	Value uint64
}

const Nlist64Size = 4 + 1 + 1 + 2 + 8

const (
	NTypeStab = 0xe0
	NTypeExt  = 0x01
	NTypeType = 0x0e
	NTypeSect = 0x0e
)
