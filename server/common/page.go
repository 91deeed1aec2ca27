package common

// Section 按分区计算页号

// SectionOf 页所在的分区
func SectionOf(pageNum uint64) uint64 {
	return pageNum / PAGES_IN_SECTION
}

// SectionStart 分区首页
func SectionStart(section uint64) uint64 {
	return section * PAGES_IN_SECTION
}

// SectionReservedPage 分区保留的最后一页
func SectionReservedPage(section uint64) uint64 {
	return (section+1)*PAGES_IN_SECTION - 1
}

// BitmapPageOf 记录该分区空闲位图的页
func BitmapPageOf(section uint64) uint64 {
	if section == 0 {
		return FIRST_SECTION_BITMAP_PAGE
	}
	return SectionReservedPage(section)
}

// IsReservedPage 文件头、位图页与各分区最后一页均不可分配
func IsReservedPage(pageNum uint64) bool {
	if pageNum < FIRST_USABLE_PAGE {
		return true
	}
	return pageNum%PAGES_IN_SECTION == PAGES_IN_SECTION-1
}

// SectionCapacity 分区内最大连续可分配页数
func SectionCapacity(section uint64) uint64 {
	if section == 0 {
		return PAGES_IN_SECTION - FIRST_USABLE_PAGE - 1
	}
	return PAGES_IN_SECTION - 1
}

// NumberOfSections 覆盖 numberOfPages 所需的分区数
func NumberOfSections(numberOfPages uint64) uint64 {
	return (numberOfPages + PAGES_IN_SECTION - 1) / PAGES_IN_SECTION
}

// PagesFor 容纳 size 字节所需页数，至少 1 页
func PagesFor(size uint64) uint64 {
	if size == 0 {
		return 1
	}
	return (size + PAGE_SIZE - 1) / PAGE_SIZE
}

// FilePagesFor 文件增长后的页数：不超过一个分区时按页对齐，否则按分区对齐
func FilePagesFor(size uint64) uint64 {
	pages := PagesFor(size)
	if pages <= PAGES_IN_SECTION {
		return pages
	}
	return NumberOfSections(pages) * PAGES_IN_SECTION
}
