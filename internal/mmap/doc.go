// Package mmap maps sketch files read-only into memory.
//
// The local blob store serves block reads from a Mapping, so repeated
// streamed passes over the same sketch are answered from the page cache
// without extra copies into user-space buffers.
//
//	m, err := mmap.Open(path)
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//	_ = m.Advise(mmap.AccessSequential)
package mmap
