package main

import (
	"fmt"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/juju/errors"

	"github.com/zhukovaskychina/xpagestore/logger"
	"github.com/zhukovaskychina/xpagestore/server/common"
	"github.com/zhukovaskychina/xpagestore/server/conf"
	"github.com/zhukovaskychina/xpagestore/server/innodb/manager"
)

// CLI xpagestore 命令行
var CLI struct {
	Config   string `name:"config" short:"c" help:"配置文件 (.ini 或 .toml)" type:"path"`
	LogLevel string `name:"log-level" help:"日志级别，覆盖配置文件"`

	Init     InitCmd     `cmd:"" help:"创建数据库"`
	Inspect  InspectCmd  `cmd:"" help:"打印文件头与运行状态"`
	Wal      WalCmd      `cmd:"" help:"恢复并打印 WAL 状态"`
	AllocMap AllocMapCmd `cmd:"" name:"alloc-map" help:"打印每个分区的空闲页"`
	Put      PutCmd      `cmd:"" help:"在页内写入文本"`
	Get      GetCmd      `cmd:"" help:"读取页内内容"`
}

type environment struct {
	cfg *conf.Cfg
}

func (env *environment) dataFile(path string) string {
	if path != "" {
		return path
	}
	return env.cfg.DataFile
}

func (env *environment) open(path string) (*manager.Database, error) {
	return manager.OpenDatabase(env.dataFile(path), env.cfg.Options())
}

// InitCmd 创建数据库，已存在时只做恢复
type InitCmd struct {
	Path        string `arg:"" optional:"" help:"数据文件路径"`
	MinimumSize string `name:"minimum-size" help:"初始文件大小，如 1MiB"`
	WalSize     string `name:"wal-size" help:"WAL 文件大小，如 256KiB"`
}

func (c *InitCmd) Run(env *environment) error {
	if c.MinimumSize != "" {
		size, err := humanize.ParseBytes(c.MinimumSize)
		if err != nil {
			return errors.Annotatef(err, "minimum-size")
		}
		env.cfg.MinimumSize = size
	}
	if c.WalSize != "" {
		size, err := humanize.ParseBytes(c.WalSize)
		if err != nil {
			return errors.Annotatef(err, "wal-size")
		}
		env.cfg.WalSize = size
	}
	db, err := env.open(c.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	hdr := db.Header()
	fmt.Printf("%s: %s (%d pages), database %s\n", db.Path(),
		humanize.IBytes(hdr.NumberOfPages*common.PAGE_SIZE), hdr.NumberOfPages, hdr.DatabaseID)
	return nil
}

type InspectCmd struct {
	Path string `arg:"" optional:"" help:"数据文件路径"`
}

func (c *InspectCmd) Run(env *environment) error {
	db, err := env.open(c.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	hdr := db.Header()
	st := db.Stats()
	fmt.Printf("file:          %s\n", db.Path())
	fmt.Printf("database id:   %s\n", hdr.DatabaseID)
	fmt.Printf("format:        %d, page size %s\n", hdr.FormatVersion, humanize.IBytes(uint64(hdr.PageSize)))
	fmt.Printf("size:          %s (%d pages, %d sections)\n",
		humanize.IBytes(hdr.NumberOfPages*common.PAGE_SIZE), hdr.NumberOfPages, hdr.Sections)
	fmt.Printf("last version:  %d\n", hdr.LastVersion)
	fmt.Printf("watermark:     %d\n", st.Watermark)
	fmt.Printf("physical size: %s\n", humanize.IBytes(st.PhysicalPages*common.PAGE_SIZE))
	return nil
}

type WalCmd struct {
	Path string `arg:"" optional:"" help:"数据文件路径"`
}

func (c *WalCmd) Run(env *environment) error {
	db, err := env.open(c.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	res := db.Recovery()
	st := db.Stats()
	fmt.Printf("recovered %d records", res.Replayed)
	if res.Replayed > 0 {
		fmt.Printf(" (versions %d..%d)", res.FirstVersion, res.LastVersion)
	}
	fmt.Println()
	if res.Skipped > 0 {
		fmt.Printf("skipped %d records older than the data file\n", res.Skipped)
	}
	if res.StopReason != "" {
		fmt.Printf("stopped: %s\n", res.StopReason)
	}
	for i := 0; i < 2; i++ {
		marker := " "
		if i == st.WalIndex {
			marker = "*"
		}
		fmt.Printf("%s wal %c: position %s of %s\n", marker, 'a'+i,
			humanize.IBytes(st.WalPositions[i]), humanize.IBytes(st.WalSizes[i]))
	}
	return nil
}

type AllocMapCmd struct {
	Path string `arg:"" optional:"" help:"数据文件路径"`
}

func (c *AllocMapCmd) Run(env *environment) error {
	db, err := env.open(c.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(func(tx *manager.Transaction) error {
		usage, err := tx.Usage()
		if err != nil {
			return err
		}
		var free uint64
		for _, u := range usage {
			fmt.Printf("section %4d  pages %6d..%-6d  busy %3d  free %3d\n",
				u.Section, u.First, u.First+u.Pages-1, u.Busy, u.Free())
			free += u.Free()
		}
		fmt.Printf("free: %s\n", humanize.IBytes(free*common.PAGE_SIZE))
		return nil
	})
}

type PutCmd struct {
	Path   string `arg:"" help:"数据文件路径"`
	Page   uint64 `arg:"" help:"页号"`
	Offset int    `arg:"" help:"页内偏移"`
	Text   string `arg:"" help:"写入的文本"`
}

func (c *PutCmd) Run(env *environment) error {
	if c.Offset < 0 || c.Offset+len(c.Text) > common.PAGE_SIZE {
		return errors.Errorf("%d bytes at offset %d do not fit in a page", len(c.Text), c.Offset)
	}
	db, err := env.open(c.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(func(tx *manager.Transaction) error {
		p, err := tx.Modify(c.Page, 1)
		if err != nil {
			return err
		}
		copy(p.Data[c.Offset:], c.Text)
		fmt.Printf("page %d: wrote %d bytes as version %d\n", c.Page, len(c.Text), tx.Version()+1)
		return nil
	})
}

type GetCmd struct {
	Path   string `arg:"" help:"数据文件路径"`
	Page   uint64 `arg:"" help:"页号"`
	Offset int    `name:"offset" default:"0" help:"页内偏移"`
	Length int    `name:"length" short:"n" default:"64" help:"读取的字节数"`
}

func (c *GetCmd) Run(env *environment) error {
	if c.Offset < 0 || c.Length < 0 || c.Offset+c.Length > common.PAGE_SIZE {
		return errors.Errorf("range %d+%d exceeds the page", c.Offset, c.Length)
	}
	db, err := env.open(c.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(func(tx *manager.Transaction) error {
		p, err := tx.Get(c.Page, 1)
		if err != nil {
			return err
		}
		fmt.Printf("%q\n", strings.TrimRight(string(p.Data[c.Offset:c.Offset+c.Length]), "\x00"))
		return nil
	})
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("xpagestore"),
		kong.Description("单文件事务页存储"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	cfg := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: CLI.Config})
	if CLI.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(CLI.LogLevel)
	}
	if err := logger.InitLogger(cfg.LogConfig()); err != nil {
		ctx.FatalIfErrorf(err)
	}
	logger.Debugf("config loaded: data_file=%s, wal_size=%d", cfg.DataFile, cfg.WalSize)

	err := ctx.Run(&environment{cfg: cfg})
	ctx.FatalIfErrorf(err)
}
