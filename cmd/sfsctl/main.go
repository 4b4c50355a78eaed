// Command sfsctl manages sfs volume image files from the shell.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/nwillc/sfs/block"
	"github.com/nwillc/sfs/presets"
	"github.com/nwillc/sfs/sfs"
)

var imageFlag = &cli.StringFlag{
	Name:     "image",
	Aliases:  []string{"i"},
	Usage:    "path to the volume image file",
	EnvVars:  []string{"SFS_IMAGE"},
	Required: true,
}

func main() {
	app := cli.App{
		Usage: "Manage sfs volume image files",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create or reformat an image",
				Action:    formatImage,
				ArgsUsage: "",
				Flags: []cli.Flag{
					imageFlag,
					&cli.StringFlag{
						Name:  "preset",
						Usage: fmt.Sprintf("named geometry to use (one of: %v)", presets.Names()),
						Value: "default",
					},
				},
			},
			{
				Name:      "mkdir",
				Usage:     "Create a directory",
				Action:    mkdirCmd,
				ArgsUsage: "PATH",
				Flags:     []cli.Flag{imageFlag},
			},
			{
				Name:      "ls",
				Usage:     "List a directory's entries",
				Action:    lsCmd,
				ArgsUsage: "PATH",
				Flags:     []cli.Flag{imageFlag},
			},
			{
				Name:      "cat",
				Usage:     "Print a file's contents",
				Action:    catCmd,
				ArgsUsage: "PATH",
				Flags:     []cli.Flag{imageFlag},
			},
			{
				Name:      "write",
				Usage:     "Write stdin to a file, creating it if needed",
				Action:    writeCmd,
				ArgsUsage: "PATH",
				Flags:     []cli.Flag{imageFlag},
			},
			{
				Name:      "rm",
				Usage:     "Remove a file",
				Action:    rmCmd,
				ArgsUsage: "PATH",
				Flags:     []cli.Flag{imageFlag},
			},
			{
				Name:      "rmdir",
				Usage:     "Remove an empty directory",
				Action:    rmdirCmd,
				ArgsUsage: "PATH",
				Flags:     []cli.Flag{imageFlag},
			},
			{
				Name:      "stat",
				Usage:     "Print metadata about a path",
				Action:    statCmd,
				ArgsUsage: "PATH",
				Flags:     []cli.Flag{imageFlag},
			},
			{
				Name:      "fsck",
				Usage:     "Check volume consistency",
				Action:    fsckCmd,
				ArgsUsage: "",
				Flags:     []cli.Flag{imageFlag},
			},
			{
				Name:      "dump",
				Usage:     "Write the raw volume image to stdout",
				Action:    dumpCmd,
				ArgsUsage: "",
				Flags:     []cli.Flag{imageFlag},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func openExisting(c *cli.Context) (*sfs.Storage, error) {
	path := c.String("image")
	return sfs.Mount(path, block.DefaultTotalBlocks, block.DefaultTotalInodes)
}

func formatImage(c *cli.Context) error {
	path := c.String("image")
	geometry, err := presets.Get(c.String("preset"))
	if err != nil {
		return err
	}

	storage, err := sfs.FormatFile(path, geometry.TotalBlocks, geometry.TotalInodes)
	if err != nil {
		return err
	}
	return storage.Close()
}

func mkdirCmd(c *cli.Context) error {
	storage, err := openExisting(c)
	if err != nil {
		return err
	}
	defer storage.Close()

	if err := storage.Mkdir(c.Args().First(), sfs.DefaultDirMode); err != nil {
		return err
	}
	return storage.Sync()
}

func lsCmd(c *cli.Context) error {
	storage, err := openExisting(c)
	if err != nil {
		return err
	}
	defer storage.Close()

	names, err := storage.List(c.Args().First())
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func catCmd(c *cli.Context) error {
	storage, err := openExisting(c)
	if err != nil {
		return err
	}
	defer storage.Close()

	stat, err := storage.Stat(c.Args().First())
	if err != nil {
		return err
	}

	buf := make([]byte, stat.Size)
	n, err := storage.Read(c.Args().First(), 0, buf)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(buf[:n])
	return err
}

func writeCmd(c *cli.Context) error {
	path := c.Args().First()

	storage, err := openExisting(c)
	if err != nil {
		return err
	}
	defer storage.Close()

	data, err := readAllStdin()
	if err != nil {
		return err
	}

	if err := storage.Access(path); err != nil {
		if err := storage.Mknod(path, sfs.DefaultFileMode); err != nil {
			return err
		}
	}
	if err := storage.Truncate(path, 0); err != nil {
		return err
	}
	if _, err := storage.Write(path, 0, data); err != nil {
		return err
	}
	return storage.Sync()
}

func readAllStdin() ([]byte, error) {
	var data []byte
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	return data, nil
}

func rmCmd(c *cli.Context) error {
	storage, err := openExisting(c)
	if err != nil {
		return err
	}
	defer storage.Close()

	if err := storage.Unlink(c.Args().First()); err != nil {
		return err
	}
	return storage.Sync()
}

func rmdirCmd(c *cli.Context) error {
	storage, err := openExisting(c)
	if err != nil {
		return err
	}
	defer storage.Close()

	if err := storage.Rmdir(c.Args().First()); err != nil {
		return err
	}
	return storage.Sync()
}

func statCmd(c *cli.Context) error {
	storage, err := openExisting(c)
	if err != nil {
		return err
	}
	defer storage.Close()

	stat, err := storage.Stat(c.Args().First())
	if err != nil {
		return err
	}

	fmt.Printf("inode:  %d\n", stat.InodeNumber)
	fmt.Printf("mode:   %#o\n", stat.ModeFlags)
	fmt.Printf("links:  %d\n", stat.Links)
	fmt.Printf("size:   %d\n", stat.Size)
	fmt.Printf("blocks: %d\n", stat.NumBlocks)
	fmt.Printf("uid:    %d\n", stat.Uid)
	fmt.Printf("gid:    %d\n", stat.Gid)
	fmt.Printf("isDir:  %s\n", strconv.FormatBool(stat.IsDir()))
	return nil
}

func dumpCmd(c *cli.Context) error {
	storage, err := openExisting(c)
	if err != nil {
		return err
	}
	defer storage.Close()

	_, err = storage.Dump(os.Stdout)
	return err
}

func fsckCmd(c *cli.Context) error {
	storage, err := openExisting(c)
	if err != nil {
		return err
	}
	defer storage.Close()

	if err := storage.Fsck(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("ok")
	return nil
}
