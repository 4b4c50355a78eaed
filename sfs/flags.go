package sfs

////////////////////////////////////////////////////////////////////////////////
// File mode flags, matching Unix's st_mode encoding. Only S_IFDIR and S_IFREG
// are ever stored by this filesystem's inodes, but the rest are defined
// alongside them since they're part of the same bit layout.

const (
	S_IXOTH = 1 << iota
	S_IWOTH = 1 << iota
	S_IROTH = 1 << iota
	S_IXGRP = 1 << iota
	S_IWGRP = 1 << iota
	S_IRGRP = 1 << iota
	S_IXUSR = 1 << iota
	S_IWUSR = 1 << iota
	S_IRUSR = 1 << iota
)

const S_IEXEC = S_IXUSR
const S_IWRITE = S_IWUSR
const S_IREAD = S_IRUSR

const S_IFDIR = 0x4000
const S_IFREG = 0x8000
const S_IFMT = 0xf000

const S_IRWXO = S_IXOTH | S_IWOTH | S_IROTH
const S_IRWXG = S_IXGRP | S_IWGRP | S_IRGRP
const S_IRWXU = S_IXUSR | S_IWUSR | S_IRUSR

// DefaultFileMode is the permission bits sfsctl passes to Mknod for a new
// file (0644). Mknod itself always uses the bits its caller gives it.
const DefaultFileMode = S_IRUSR | S_IWUSR | S_IRGRP | S_IROTH

// DefaultDirMode is the permission bits sfsctl passes to Mkdir for a new
// directory (0755). Mkdir itself always uses the bits its caller gives it.
const DefaultDirMode = S_IRWXU | S_IRGRP | S_IXGRP | S_IROTH | S_IXOTH
