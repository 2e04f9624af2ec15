package resources

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mpstatOut = `Linux 5.15.0-91-generic (aging-host) 	03/01/2024 	_x86_64_	(4 CPU)

13:04:05     CPU    %usr   %nice    %sys %iowait    %irq   %soft  %steal  %guest  %gnice   %idle
13:04:05     all    2.51    0.01    1.02    0.33    0.00    0.07    0.00    0.00    0.00   96.06`

const mpstat12hOut = `Linux 5.15.0 (aging-host) 	03/01/2024 	_x86_64_	(4 CPU)

01:04:05 PM  CPU    %usr   %nice    %sys %iowait    %irq   %soft  %steal  %guest  %gnice   %idle
01:04:05 PM  all    7,50    0,00    1,25    0,10    0,00    0,20    0,00    0,00    0,00   90,95`

const freeOut = `               total        used        free      shared  buff/cache   available
Mem:        16303528     4521344     8012312      412088     3769872    11066212
Swap:        2097148           0     2097148`

const meminfoOut = `MemTotal:       16303528 kB
MemFree:         8012312 kB
MemAvailable:   11066212 kB
Buffers:          215412 kB
Cached:          3312452 kB
SwapCached:            0 kB
SwapTotal:       2097148 kB
SwapFree:        2097000 kB`

const dfOut = `Filesystem     1024-blocks      Used Available Capacity Mounted on
tmpfs              1630356      2188   1628168       1% /run
/dev/sda2        102687672  41234560  56194440      43% /
/dev/sda1           523248      6220    517028       2% /boot/efi`

const psOut = `USER         PID %CPU %MEM    VSZ   RSS TTY      STAT START   TIME COMMAND
root           1  0.0  0.0 167900 13024 ?        Ss   Mar01   0:04 /sbin/init
root         812  0.0  0.0      0     0 ?        Z    Mar01   0:00 [sh] <defunct>
app         9120  0.0  0.0      0     0 ?        Z+   10:00   0:00 [node] <defunct>
app         9121  0.1  0.3  82000 51000 pts/0    S+   10:00   0:01 node server.js`

type cannedExecutor struct {
	outputs map[string]string
	fail    map[string]error
	calls   []string
}

func (c *cannedExecutor) Execute(_ context.Context, command string) (string, error) {
	c.calls = append(c.calls, command)
	if err := c.fail[command]; err != nil {
		return "", err
	}
	out, ok := c.outputs[command]
	if !ok {
		return "", errors.New("unexpected command " + command)
	}
	return out, nil
}

func newCanned() *cannedExecutor {
	return &cannedExecutor{outputs: map[string]string{
		MpstatCommand:  mpstatOut,
		FreeCommand:    freeOut,
		MeminfoCommand: meminfoOut,
		DfCommand:      dfOut,
		PsCommand:      psOut,
	}}
}

func TestCommandSourceCPU(t *testing.T) {
	got, err := NewCommandSource(newCanned()).CPU(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CPUSample{User: 2.51, Nice: 0.01, System: 1.02, IOWait: 0.33, SoftIRQ: 0.07}, got)
}

func TestCommandSourceCPUTwelveHourLocale(t *testing.T) {
	ex := newCanned()
	ex.outputs[MpstatCommand] = mpstat12hOut

	got, err := NewCommandSource(ex).CPU(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CPUSample{User: 7.5, Nice: 0, System: 1.25, IOWait: 0.1, SoftIRQ: 0.2}, got)
}

func TestCommandSourceCPUShortRow(t *testing.T) {
	ex := newCanned()
	ex.outputs[MpstatCommand] = "13:04:05 all 1.0 2.0"

	_, err := NewCommandSource(ex).CPU(context.Background())
	assert.ErrorContains(t, err, "short row")
}

func TestCommandSourceMemory(t *testing.T) {
	got, err := NewCommandSource(newCanned()).Memory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MemorySample{Used: 4521344, Cached: 3312452, Buffers: 215412, SwapFree: 2097000}, got)
}

func TestCommandSourceMemoryMissingField(t *testing.T) {
	ex := newCanned()
	ex.outputs[MeminfoCommand] = "MemTotal: 1 kB\nCached: 2 kB\nBuffers: 3 kB"

	_, err := NewCommandSource(ex).Memory(context.Background())
	assert.ErrorContains(t, err, "missing SwapFree")
}

func TestCommandSourceDisk(t *testing.T) {
	got, err := NewCommandSource(newCanned()).Disk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(41234560), got.Used)
}

func TestCommandSourceDiskForcesKibibyteBlocks(t *testing.T) {
	ex := newCanned()

	_, err := NewCommandSource(ex).Disk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"df -Pk"}, ex.calls)
}

func TestCommandSourceProcesses(t *testing.T) {
	got, err := NewCommandSource(newCanned()).Processes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Zombies)
}

func TestCommandSourcePropagatesFailure(t *testing.T) {
	boom := errors.New("mpstat: command not found")
	ex := newCanned()
	ex.fail = map[string]error{MpstatCommand: boom}

	_, err := NewCommandSource(ex).CPU(context.Background())
	assert.ErrorIs(t, err, boom)
}
