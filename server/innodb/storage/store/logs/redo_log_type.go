package logs

// WAL 记录头与页表布局
//
//	[0:32)  blake3 哈希，覆盖 [32, 对齐后的记录长度)
//	[32:40) 事务版本号
//	[40:48) 按 4096 对齐后的记录长度
//	[48:56) 记录实际使用的字节数
//	[56:64) 提交后数据库的总页数
//	[64:68) 修改的页数
//	[68:72) 未压缩的记录体长度
//	[72]    记录标志
//	[73]    压缩算法
//	[74:80) 填充
//
// 记录体 = 页表 + 页数据，页表每项 24 字节:
// 页号 u64 | 数据偏移 u32 | 数据长度 u32 | 页标志 u32 | 填充 u32
const (
	RECORD_HEADER_SIZE = 80
	PAGE_ENTRY_SIZE    = 24
	RECORD_HASH_SIZE   = 32
)

// 记录标志
const (
	WAL_RECORD_FLAG_NONE       uint8 = 0
	WAL_RECORD_FLAG_COMPRESSED uint8 = 1
)

// 页标志
const (
	WAL_PAGE_FLAG_RAW  uint32 = 0
	WAL_PAGE_FLAG_DIFF uint32 = 1
)

// 压缩算法编号
const (
	CODEC_NONE   uint8 = 0
	CODEC_LZ4    uint8 = 1
	CODEC_SNAPPY uint8 = 2
)
