package selfextract

// ElfHeader is the embedded ELF32 file header, copied to the output
// after the section header scrub.
type ElfHeader struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

const elfHeaderSize = 0x34

// ElfPhdr is one ELF32 program header entry, copied to the output
// verbatim.
type ElfPhdr struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

const elfPhdrSize = 0x20

// machineNoShdr marks executables that intentionally ship without
// section headers. Their e_shnum and e_shoff are stale fragments and
// get zeroed on output.
const machineNoShdr = 0xf00d
