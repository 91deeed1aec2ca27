package common

// 页面与文件格式常量
const PAGE_SIZE = 8192

// 物理写入对齐
const WRITE_ALIGNMENT = 4096

// 每个分区包含的页数，分区最后一页保留给空闲位图
const PAGES_IN_SECTION = 128

// 页 0 为文件头，页 1 为分区 0 的空闲位图
const HEADER_PAGE = 0
const FIRST_SECTION_BITMAP_PAGE = 1

// 首个可分配页
const FIRST_USABLE_PAGE = 2

// 最小数据文件大小
const MINIMUM_FILE_SIZE = 128 * 1024

// 默认 WAL 文件大小
const DEFAULT_WAL_SIZE = 256 * 1024

// WAL 文件后缀
const (
	WAL_SUFFIX_A = "-a.wal"
	WAL_SUFFIX_B = "-b.wal"
)
