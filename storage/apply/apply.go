// Package apply is curtin's storage executor: it walks the linearized
// action list from storage/dag and, for each item, shells out to the
// partitioning/LVM/mdadm/cryptsetup/bcache/zfs tool that actually owns the
// on-disk format, never reimplementing any of them. Grounded on spec.md
// §4.10's per-type handler list; each handler is idempotent under
// `preserve: true`, matching curtin's own "apply is safe to re-run over an
// already-applied config" contract.
package apply

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/coreos/pkg/capnslog"
	"github.com/pkg/errors"

	"github.com/canonical/curtin/storage"
	"github.com/canonical/curtin/storage/dag"
	"github.com/canonical/curtin/storage/holders"
	"github.com/canonical/curtin/storage/mkfs"
	"github.com/canonical/curtin/storage/udev"
	"github.com/canonical/curtin/storage/wipe"
	"github.com/canonical/curtin/system/exec"
)

var plog = capnslog.NewPackageLogger("github.com/canonical/curtin", "storage/apply")

// zpoolDefaults are merged under any user-supplied pool_properties before
// `zpool create`, per spec.md §4.10's zpool handler note.
var zpoolDefaults = map[string]string{
	"ashift":        "12",
	"version":       "28",
	"normalization": "formD",
	"canmount":      "off",
	"atime":         "off",
}

// Context carries the state threaded through a single apply run: the
// target root new filesystems get mounted under, the id->device path
// table built up as items are realized, and the fstab/crypttab lines
// accumulated for the install pipeline to write out.
type Context struct {
	Target string

	devices         map[string]string // item id -> resolved /dev path
	ptables         map[string]string // disk id -> partition table kind (gpt/dos)
	partitionCursor map[string]int64  // parent disk id -> next unallocated byte offset
	fstab           []string
	crypttab        []string
	dnames          []udev.DnameEntry
}

// NewContext builds an apply Context rooted at target (the install
// target's mountpoint; "" means the running system).
func NewContext(target string) *Context {
	return &Context{
		Target:          target,
		devices:         make(map[string]string),
		ptables:         make(map[string]string),
		partitionCursor: make(map[string]int64),
	}
}

// partitionAlignment is the byte offset the first partition on a disk gets
// absent an explicit offset, matching the 1 MiB alignment modern
// parted/sfdisk default to.
const partitionAlignment int64 = 1 << 20

// nextPartitionOffset returns the next unallocated byte offset on parentID,
// or the default alignment if no partition has been placed on it yet.
func (c *Context) nextPartitionOffset(parentID string) int64 {
	if off, ok := c.partitionCursor[parentID]; ok {
		return off
	}
	return partitionAlignment
}

func (c *Context) advancePartitionCursor(parentID string, offset, size int64) {
	c.partitionCursor[parentID] = offset + size
}

// Fstab returns the accumulated fstab lines, one per mount action applied
// so far, in application order.
func (c *Context) Fstab() []string { return append([]string{}, c.fstab...) }

// Crypttab returns the accumulated crypttab lines.
func (c *Context) Crypttab() []string { return append([]string{}, c.crypttab...) }

// DnameRules renders the udev by-dname rules file body for every named
// item applied so far.
func (c *Context) DnameRules() string { return udev.RenderRules(c.dnames) }

func (c *Context) devPath(id string) (string, error) {
	if p, ok := c.devices[id]; ok {
		return p, nil
	}
	return "", errors.Errorf("apply: no resolved device path for id %q", id)
}

func (c *Context) setDevPath(id, path string) { c.devices[id] = path }

// Apply runs the storage executor over cfg: it linearizes the dependency
// graph, then applies each item's handler in order. A failure on one item
// stops the run; items already applied are left in place (apply is safe to
// re-run, per the preserve-idempotence invariant).
func Apply(ctx *Context, cfg []storage.Item) error {
	m, err := dag.NewOrderedMap(cfg)
	if err != nil {
		return err
	}
	linear, err := m.Linearize()
	if err != nil {
		return err
	}

	for _, item := range linear {
		if err := applyItem(ctx, item); err != nil {
			return errors.Wrapf(err, "applying %s %q", item.Type(), item.ID())
		}
	}
	return nil
}

func applyItem(ctx *Context, item storage.Item) error {
	plog.Debugf("applying %s %q (preserve=%v)", item.Type(), item.ID(), item.Bool("preserve"))
	switch item.Type() {
	case storage.TypeDisk:
		return applyDisk(ctx, item)
	case storage.TypeDasd:
		return applyDasd(ctx, item)
	case storage.TypePartition:
		return applyPartition(ctx, item)
	case storage.TypeFormat:
		return applyFormat(ctx, item)
	case storage.TypeMount:
		return applyMount(ctx, item)
	case storage.TypeLVMVolGroup:
		return applyLVMVolGroup(ctx, item)
	case storage.TypeLVMPartition:
		return applyLVMPartition(ctx, item)
	case storage.TypeDMCrypt:
		return applyDMCrypt(ctx, item)
	case storage.TypeRAID:
		return applyRAID(ctx, item)
	case storage.TypeBcache:
		return applyBcache(ctx, item)
	case storage.TypeZpool:
		return applyZpool(ctx, item)
	case storage.TypeZfs:
		return applyZfs(ctx, item)
	default:
		return errors.Errorf("no handler registered for storage type %q", item.Type())
	}
}

// diskPath resolves a disk/partition/raid/lvm_partition/bcache item's
// physical path: "path" if given explicitly (probe-sourced configs carry
// one), otherwise /dev/<id>, matching curtin's "kname doubles as device
// name absent other hints" convention.
func diskPath(item storage.Item) string {
	if p := item.String("path"); p != "" {
		return p
	}
	return "/dev/" + item.ID()
}

func run(args []string, opts exec.Options) (exec.Result, error) {
	return exec.Run(args, opts)
}

// parseWipeMode validates a configured "wipe" field against spec.md §4.8's
// fixed enum; an empty raw means no wipe was requested.
func parseWipeMode(raw string) (mode wipe.Mode, ok bool) {
	switch wipe.Mode(raw) {
	case wipe.Superblock, wipe.SuperblockRecursive, wipe.Zero, wipe.Random:
		return wipe.Mode(raw), true
	default:
		return "", false
	}
}

// applyDisk clears any existing holder tree and partition table stack off
// the disk (unless preserve), then records its path and ptable kind for
// child partitions, and emits a by-dname rule if named.
func applyDisk(ctx *Context, item storage.Item) error {
	path := diskPath(item)
	ctx.setDevPath(item.ID(), path)
	if ptable := item.String("ptable"); ptable != "" {
		ctx.ptables[item.ID()] = ptable
	}

	if !item.Bool("preserve") {
		if err := holders.Clear([]string{item.ID()}, func(kname string) string { return "/dev/" + kname }); err != nil {
			return errors.Wrap(err, "clearing existing holders")
		}
		if raw := item.String("wipe"); raw != "" {
			mode, ok := parseWipeMode(raw)
			if !ok {
				return errors.Errorf("disk %s: unsupported wipe mode %q", item.ID(), raw)
			}
			size, err := blockdevSize(path)
			if err != nil {
				return errors.Wrap(err, "reading device size for wipe")
			}
			if err := wipe.Device(path, size, mode, nil, nil); err != nil {
				return errors.Wrapf(err, "wiping disk %s", item.ID())
			}
		}
		ptable := item.String("ptable")
		switch ptable {
		case "gpt":
			if _, err := run([]string{"sgdisk", "--zap-all", path}, exec.Options{}); err != nil {
				return errors.Wrap(err, "sgdisk --zap-all")
			}
		case "msdos", "dos", "":
			if _, err := run([]string{"sfdisk", "--delete", path}, exec.Options{AllowedExitCodes: []int{0, 1}}); err != nil {
				return errors.Wrap(err, "sfdisk --delete")
			}
		default:
			return errors.Errorf("disk %s: unsupported ptable %q", item.ID(), ptable)
		}
	}

	if name := item.String("name"); name != "" {
		if err := addDname(ctx, "disk", path, name); err != nil {
			return err
		}
	}
	return nil
}

func applyDasd(ctx *Context, item storage.Item) error {
	deviceID := item.String("device_id")
	if deviceID == "" {
		return errors.Errorf("dasd %s: missing device_id", item.ID())
	}
	path := "/dev/disk/by-path/ccw-" + deviceID
	ctx.setDevPath(item.ID(), path)
	if item.Bool("preserve") {
		return nil
	}
	if status, err := lsdasdStatus(deviceID); err == nil && status.Status != "n/f" {
		plog.Debugf("dasd %s status=%s, already formatted, skipping dasdfmt", deviceID, status.Status)
	} else {
		if _, err := run([]string{"dasdfmt", "-b", "4096", "-y", "-p", path}, exec.Options{}); err != nil {
			return errors.Wrap(err, "dasdfmt")
		}
	}
	if _, err := run([]string{"fdasd", "-a", path}, exec.Options{}); err != nil {
		return errors.Wrap(err, "fdasd -a")
	}
	return nil
}

// dasdStatus is the subset of an lsdasd --long entry applyDasd consults.
type dasdStatus struct {
	BusID  string
	KName  string
	Status string
}

// lsdasdStatus runs `lsdasd --long --offline <busID>` and parses its single
// resulting entry, letting the caller decide whether dasdfmt is still
// needed (status "n/f" means not-formatted).
func lsdasdStatus(busID string) (dasdStatus, error) {
	res, err := run([]string{"lsdasd", "--long", "--offline", busID}, exec.Options{Capture: true})
	if err != nil {
		return dasdStatus{}, errors.Wrap(err, "lsdasd")
	}
	return parseLsdasdStatus(res.Stdout)
}

// parseLsdasdStatus parses one lsdasd --long entry ("busid/kname/devid"
// header line followed by "key: value" lines) the way
// curtin/block/dasd.py's _parse_lsdasd does, including its guard against
// truncated/empty output: fewer than 15 lines can't be a real entry.
func parseLsdasdStatus(entry string) (dasdStatus, error) {
	lines := strings.Split(strings.TrimRight(entry, "\n"), "\n")
	if len(lines) < 15 {
		return dasdStatus{}, errors.Errorf("lsdasd status input has fewer than 15 lines, cannot parse")
	}
	status := dasdStatus{}
	first := strings.TrimSpace(lines[0])
	if parts := strings.SplitN(first, "/", 3); len(parts) > 1 {
		status.BusID = parts[0]
		status.KName = parts[1]
	} else {
		status.BusID = first
	}
	for _, line := range lines[1:] {
		kv := strings.SplitN(strings.TrimSpace(line), ":", 2)
		if len(kv) != 2 {
			continue
		}
		if key := strings.TrimSpace(kv[0]); key == "status" {
			status.Status = strings.TrimSpace(kv[1])
		}
	}
	return status, nil
}

// applyPartition creates the numbered partition on its parent disk (unless
// preserve), wiping the partition's future extent on the parent first if a
// wipe mode is configured (the partition doesn't exist yet, so the wipe
// targets the parent device at the partition's own offset/size), and
// resolves its own device path as <parent>N.
func applyPartition(ctx *Context, item storage.Item) error {
	parentID := item.String("device")
	parentPath, err := ctx.devPath(parentID)
	if err != nil {
		return err
	}
	number := item.Int("number")
	path := partitionDevicePath(parentPath, number)
	ctx.setDevPath(item.ID(), path)

	if item.Bool("preserve") {
		return nil
	}

	sizeBytes := int64(item.Int("size"))
	offset := int64(item.Int("offset"))
	if offset == 0 {
		offset = ctx.nextPartitionOffset(parentID)
	}
	if raw := item.String("wipe"); raw != "" {
		if _, ok := parseWipeMode(raw); !ok {
			return errors.Errorf("partition %s: unsupported wipe mode %q", item.ID(), raw)
		}
		ext := wipe.PartitionExtent{Offset: offset, Size: sizeBytes}
		if err := wipe.ExtentEnds(parentPath, ext, nil); err != nil {
			return errors.Wrapf(err, "wiping partition %s extent before creation", item.ID())
		}
	}
	ctx.advancePartitionCursor(parentID, offset, sizeBytes)

	sizeMiB := int(sizeBytes / (1 << 20))
	if sizeMiB == 0 {
		sizeMiB = 1
	}
	ptable := ctx.ptables[parentID]
	switch ptable {
	case "gpt":
		args := []string{"sgdisk", fmt.Sprintf("--new=%d:0:+%dM", number, sizeMiB)}
		if flag := item.String("flag"); flag != "" {
			if code, ok := gptTypeCodes[flag]; ok {
				args = append(args, fmt.Sprintf("--typecode=%d:%s", number, code))
			}
		}
		args = append(args, parentPath)
		if _, err := run(args, exec.Options{}); err != nil {
			return errors.Wrap(err, "sgdisk --new")
		}
	default:
		script := fmt.Sprintf("size=%dMiB\n", sizeMiB)
		if flag := item.String("flag"); flag == "boot" {
			script += "bootable\n"
		}
		if _, err := run([]string{"sfdisk", "-a", "--append", parentPath},
			exec.Options{InputData: []byte(script)}); err != nil {
			return errors.Wrap(err, "sfdisk --append")
		}
	}

	if name := item.String("name"); name != "" {
		if err := addDname(ctx, "partition", path, name); err != nil {
			return err
		}
	}
	return nil
}

// partitionDevicePath appends the kernel's partition-numbering convention:
// a trailing digit on the parent name gets a "p" separator (nvme0n1p1,
// mmcblk0p1), a plain disk name doesn't (sda1).
func partitionDevicePath(parentPath string, number int) string {
	if len(parentPath) > 0 {
		last := parentPath[len(parentPath)-1]
		if last >= '0' && last <= '9' {
			return fmt.Sprintf("%sp%d", parentPath, number)
		}
	}
	return fmt.Sprintf("%s%d", parentPath, number)
}

var gptTypeCodes = map[string]string{
	"boot":      "ef00",
	"raid":      "fd00",
	"lvm":       "8e00",
	"swap":      "8200",
	"bios_grub": "ef02",
}

// applyFormat runs mkfs on the format's target volume (unless preserve,
// in which case it only records the volume's path so mount can reference
// it; applyMount reads the uuid for fstab via blkid), per spec.md §4.9.
func applyFormat(ctx *Context, item storage.Item) error {
	volID := item.String("volume")
	path, err := ctx.devPath(volID)
	if err != nil {
		return err
	}

	opts := mkfs.Options{
		Strict: true,
		Label:  item.String("label"),
		UUID:   item.String("uuid"),
	}

	if item.Bool("preserve") {
		ctx.setDevPath(item.ID(), path)
		return nil
	}

	fstype := item.String("fstype")
	if fstype == "swap" {
		args := []string{"mkswap"}
		if opts.Label != "" {
			args = append(args, "-L", opts.Label)
		}
		args = append(args, path)
		if _, err := run(args, exec.Options{}); err != nil {
			return errors.Wrap(err, "mkswap")
		}
		ctx.setDevPath(item.ID(), path)
		return nil
	}

	if _, err := mkfs.Mkfs(blockdevSectorSize, path, fstype, opts); err != nil {
		return errors.Wrapf(err, "mkfs.%s on %s", fstype, path)
	}
	ctx.setDevPath(item.ID(), path)
	return nil
}

// applyMount creates the mountpoint under the install target, mounts the
// format's volume there, and appends an fstab line keyed by UUID so the
// mapping survives a reboot off curtin's running environment.
func applyMount(ctx *Context, item storage.Item) error {
	fmtID := item.String("device")
	path, err := ctx.devPath(fmtID)
	if err != nil {
		return err
	}

	targetPath := strings.TrimSuffix(ctx.Target, "/") + item.String("path")
	if !item.Bool("preserve") {
		if _, err := run([]string{"mkdir", "-p", targetPath}, exec.Options{}); err != nil {
			return errors.Wrap(err, "mkdir mountpoint")
		}
		if _, err := run([]string{"mount", path, targetPath}, exec.Options{}); err != nil {
			return errors.Wrap(err, "mount")
		}
	}

	uuid, err := blkidUUID(path)
	device := "UUID=" + uuid
	if err != nil || uuid == "" {
		device = path
	}
	fstype := item.String("fstype")
	if fstype == "" {
		fstype = "auto"
	}
	passno := "2"
	if item.String("path") == "/" {
		passno = "1"
	}
	ctx.fstab = append(ctx.fstab, fmt.Sprintf("%s %s %s defaults 0 %s",
		device, item.String("path"), fstype, passno))
	return nil
}

// blockdevSectorSize shells out to blockdev(8) for a device's logical and
// physical sector sizes, matching curtin's own preference for the
// existing tool over reimplementing the BLKSSZGET/BLKPBSZGET ioctls.
func blockdevSectorSize(path string) (logical, physical int, err error) {
	logRes, err := run([]string{"blockdev", "--getss", path}, exec.Options{Capture: true})
	if err != nil {
		return 0, 0, errors.Wrap(err, "blockdev --getss")
	}
	logical, err = strconv.Atoi(strings.TrimSpace(logRes.Stdout))
	if err != nil {
		return 0, 0, errors.Wrap(err, "parsing logical sector size")
	}
	physRes, err := run([]string{"blockdev", "--getpbsz", path}, exec.Options{Capture: true})
	if err != nil {
		return logical, logical, nil
	}
	physical, err = strconv.Atoi(strings.TrimSpace(physRes.Stdout))
	if err != nil {
		return logical, logical, nil
	}
	return logical, physical, nil
}

// blockdevSize shells out to blockdev(8) for a device's total byte size,
// needed to size a zero/random stream wipe or a superblock wipe's tail
// offset.
func blockdevSize(path string) (int64, error) {
	res, err := run([]string{"blockdev", "--getsize64", path}, exec.Options{Capture: true})
	if err != nil {
		return 0, errors.Wrap(err, "blockdev --getsize64")
	}
	size, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parsing device size")
	}
	return size, nil
}

func blkidUUID(path string) (string, error) {
	res, err := run([]string{"blkid", "-o", "value", "-s", "UUID", path}, exec.Options{Capture: true})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// applyLVMVolGroup runs pvcreate on each member device then vgcreate the
// group over them.
func applyLVMVolGroup(ctx *Context, item storage.Item) error {
	var memberPaths []string
	for _, devID := range item.StringList("devices") {
		p, err := ctx.devPath(devID)
		if err != nil {
			return err
		}
		memberPaths = append(memberPaths, p)
	}
	ctx.setDevPath(item.ID(), item.String("name"))

	if item.Bool("preserve") {
		return nil
	}
	for _, p := range memberPaths {
		if _, err := run([]string{"pvcreate", "--force", p}, exec.Options{}); err != nil {
			return errors.Wrap(err, "pvcreate")
		}
	}
	args := append([]string{"vgcreate", item.String("name")}, memberPaths...)
	if _, err := run(args, exec.Options{}); err != nil {
		return errors.Wrap(err, "vgcreate")
	}
	return nil
}

// applyLVMPartition creates a logical volume inside its volgroup and
// resolves the resulting /dev/<vg>/<lv> path.
func applyLVMPartition(ctx *Context, item storage.Item) error {
	vgName := item.String("volgroup")
	lvName := item.String("name")
	path := fmt.Sprintf("/dev/%s/%s", vgName, lvName)
	ctx.setDevPath(item.ID(), path)

	if item.Bool("preserve") {
		return nil
	}
	sizeMiB := item.Int("size") / (1 << 20)
	if sizeMiB == 0 {
		sizeMiB = 1
	}
	args := []string{"lvcreate", "--yes", "-L", fmt.Sprintf("%dM", sizeMiB), "-n", lvName, vgName}
	if _, err := run(args, exec.Options{}); err != nil {
		return errors.Wrap(err, "lvcreate")
	}
	if name := item.String("dname"); name != "" {
		if err := addDname(ctx, "lvm_partition", path, name); err != nil {
			return err
		}
	}
	return nil
}

// applyDMCrypt formats and opens a LUKS volume, recording its
// /dev/mapper/<dm_name> path and a crypttab line. The mapped device is
// keyed by either a passphrase (item "key") or a keyfile path (item
// "keyfile"), per spec.md:46 - exactly one is expected to be set.
func applyDMCrypt(ctx *Context, item storage.Item) error {
	volID := item.String("volume")
	path, err := ctx.devPath(volID)
	if err != nil {
		return err
	}
	dmName := item.String("dm_name")
	if dmName == "" {
		dmName = item.ID()
	}
	mapped := "/dev/mapper/" + dmName
	ctx.setDevPath(item.ID(), mapped)

	if item.Bool("preserve") {
		return nil
	}

	key := item.String("key")
	keyfile := item.String("keyfile")

	formatArgs := []string{"cryptsetup", "-q", "luksFormat", path}
	openArgs := []string{"cryptsetup", "open", path, dmName}
	var opts exec.Options
	if keyfile != "" {
		formatArgs = append(formatArgs, "--key-file", keyfile)
		openArgs = append(openArgs, "--key-file", keyfile)
	} else {
		opts = exec.Options{InputData: []byte(key), LogString: "cryptsetup (passphrase withheld)"}
	}

	if _, err := run(formatArgs, opts); err != nil {
		return errors.Wrap(err, "cryptsetup luksFormat")
	}
	if _, err := run(openArgs, opts); err != nil {
		return errors.Wrap(err, "cryptsetup open")
	}

	uuid, _ := blkidUUID(path)
	crypttabKeyfile := keyfile
	if crypttabKeyfile == "" {
		crypttabKeyfile = "none"
	}
	ctx.crypttab = append(ctx.crypttab, fmt.Sprintf("%s UUID=%s %s luks", dmName, uuid, crypttabKeyfile))
	return nil
}

// applyRAID assembles an mdadm array over its devices and spares and
// resolves its /dev/mdX path.
func applyRAID(ctx *Context, item storage.Item) error {
	path := "/dev/" + item.ID()
	ctx.setDevPath(item.ID(), path)

	if item.Bool("preserve") {
		return nil
	}

	var memberPaths, sparePaths []string
	for _, d := range item.StringList("devices") {
		p, err := ctx.devPath(d)
		if err != nil {
			return err
		}
		memberPaths = append(memberPaths, p)
	}
	for _, d := range item.StringList("spare_devices") {
		p, err := ctx.devPath(d)
		if err != nil {
			return err
		}
		sparePaths = append(sparePaths, p)
	}

	args := []string{"mdadm", "--create", path, "--run",
		"--level=" + item.String("raidlevel"),
		"--raid-devices=" + strconv.Itoa(len(memberPaths)),
	}
	args = append(args, memberPaths...)
	if len(sparePaths) > 0 {
		args = append(args, "--spare-devices="+strconv.Itoa(len(sparePaths)))
		args = append(args, sparePaths...)
	}
	if _, err := run(args, exec.Options{}); err != nil {
		return errors.Wrap(err, "mdadm --create")
	}
	return nil
}

// applyBcache builds a bcache device from a backing device and an optional
// cache device, using udev to resolve the resulting bcacheN kname (the
// kernel assigns it, make-bcache doesn't print it).
func applyBcache(ctx *Context, item storage.Item) error {
	backingPath, err := ctx.devPath(item.String("backing_device"))
	if err != nil {
		return err
	}

	if !item.Bool("preserve") {
		args := []string{"make-bcache", "-B", backingPath}
		if cacheID := item.String("cache_device"); cacheID != "" {
			cachePath, err := ctx.devPath(cacheID)
			if err != nil {
				return err
			}
			args = append(args, "-C", cachePath)
		}
		if _, err := run(args, exec.Options{}); err != nil {
			return errors.Wrap(err, "make-bcache")
		}
		_ = udev.Settle()
	}

	info, err := udev.Info(backingPath)
	if err == nil {
		if bdev := info["ID_BCACHE_BACKING_DEV"]; bdev != "" {
			ctx.setDevPath(item.ID(), "/dev/"+bdev)
			return nil
		}
	}
	// Fall back to the backing device's own path; the caller can resolve
	// the live bcacheN kname via udev once the device has settled.
	ctx.setDevPath(item.ID(), backingPath)
	return nil
}

// applyZpool merges spec.md's default pool properties under any
// user-supplied pool_properties and runs zpool create over the named
// vdevs.
func applyZpool(ctx *Context, item storage.Item) error {
	ctx.setDevPath(item.ID(), item.String("pool"))
	poolName := item.String("pool")
	if poolName == "" {
		poolName = item.ID()
		ctx.setDevPath(item.ID(), poolName)
	}

	if item.Bool("preserve") {
		return nil
	}

	props := mergeZpoolProps(item.Map("pool_properties"))

	args := []string{"zpool", "create"}
	for _, k := range sortedStringKeys(props) {
		args = append(args, "-o", k+"="+props[k])
	}
	args = append(args, poolName)
	for _, vdevID := range item.StringList("vdevs") {
		p, err := ctx.devPath(vdevID)
		if err != nil {
			return err
		}
		args = append(args, p)
	}
	if _, err := run(args, exec.Options{}); err != nil {
		return errors.Wrap(err, "zpool create")
	}
	return nil
}

// applyZfs creates a dataset inside its pool. canmount=noauto datasets
// don't get auto-mounted by the pool import, so they're mounted
// explicitly per spec.md §4.10's zfs handler note.
func applyZfs(ctx *Context, item storage.Item) error {
	poolID := item.String("pool")
	pool, err := ctx.devPath(poolID)
	if err != nil {
		return err
	}
	dataset := pool + "/" + item.String("volume")
	ctx.setDevPath(item.ID(), dataset)

	if item.Bool("preserve") {
		return nil
	}

	args := []string{"zfs", "create"}
	for k, v := range item.Map("properties") {
		args = append(args, "-o", fmt.Sprintf("%s=%v", k, v))
	}
	args = append(args, dataset)
	if _, err := run(args, exec.Options{}); err != nil {
		return errors.Wrap(err, "zfs create")
	}

	if props := item.Map("properties"); fmt.Sprintf("%v", props["canmount"]) == "noauto" {
		if _, err := run([]string{"zfs", "mount", dataset}, exec.Options{}); err != nil {
			return errors.Wrap(err, "zfs mount")
		}
	}
	return nil
}

// mergeZpoolProps merges spec.md's default pool properties under any
// user-supplied pool_properties, so explicit overrides always win.
func mergeZpoolProps(overrides map[string]interface{}) map[string]string {
	props := map[string]string{}
	for k, v := range zpoolDefaults {
		props[k] = v
	}
	for k, v := range overrides {
		props[k] = fmt.Sprintf("%v", v)
	}
	return props
}

func addDname(ctx *Context, itemType, path, name string) error {
	key, err := udev.StableKeyFor(itemType)
	if err != nil {
		return nil // no stable dname key for this type; skip silently
	}
	info, err := udev.Info(path)
	if err != nil {
		return errors.Wrapf(err, "resolving udev properties for %s", path)
	}
	value := info[key]
	if value == "" {
		return nil
	}
	ctx.dnames = append(ctx.dnames, udev.DnameEntry{MatchKey: key, KeyValue: value, Name: name})
	return nil
}

func sortedStringKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
