/*
Package sevenzip reads 7z archives.

NewReader validates the start header, parses the (possibly compressed)
header into folder and file records and decodes every folder into one
in-memory stream from which file contents are sliced:

	a, err := sevenzip.NewReader(f, size)
	if err != nil {
		return err
	}
	for i := range a.Files {
		fmt.Println(a.Files[i].Name, a.Files[i].Size)
	}

Folders must consist of a single coder. LZMA, LZMA2, Deflate, BZip2,
Zstandard and stored folders are decoded by the default Registry; other
methods, coder chains such as BCJ+LZMA, and encryption are reported as
ErrUnsupported. Fill adds the entries of an archive to a vfs.Tree, which is
how package sevenzipfs exposes archives as a vfs.FileSystem.
*/
package sevenzip // import "textmodes.com/sevenzip"
