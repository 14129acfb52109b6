// Package pools provides buffer pooling for the record encode and read paths.
//
//   - BytePool: size-class based byte slice pooling
//   - BufferBuilder: little-endian record encoding on pooled buffers
package pools
