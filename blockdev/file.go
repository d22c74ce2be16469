// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"os"

	"github.com/NVIDIA/cstruct"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/blockcache/blunder"
	"github.com/NVIDIA/blockcache/logger"
)

const (
	fileImageMagic   uint64 = 0x4B4C424845434143 // "CACEHBLK" little endian
	fileImageVersion uint32 = 1
)

// fileImageHeader is packed (little endian) at the start of the image's
// first block.  Block N of the device starts at (1 + N) * BlockSize.
//
type fileImageHeader struct {
	Magic     uint64
	Version   uint32
	DeviceID  uint32
	BlockSize uint32
	NumBlocks uint64
}

// FileDevice is a single device ID stored in an image file.
//
type FileDevice struct {
	file   *os.File
	fd     int
	path   string
	header fileImageHeader
}

func fileImageHeaderSize() (headerSize uint64, err error) {
	headerSize, _, err = cstruct.Examine(fileImageHeader{})
	if nil != err {
		err = blunder.AddError(err, blunder.PackError)
	}
	return
}

func createFileDevice(path string, deviceID uint32, blockSize uint32, numBlocks uint64) (fileDevice *FileDevice, err error) {
	var (
		file        *os.File
		headerBlock []byte
		headerBuf   []byte
		headerSize  uint64
		n           int
	)

	headerSize, err = fileImageHeaderSize()
	if nil != err {
		return
	}
	if uint64(blockSize) < headerSize {
		err = blunder.NewError(blunder.InvalidArgError, "blockSize %d smaller than image header (%d bytes)", blockSize, headerSize)
		return
	}
	if 0 == numBlocks {
		err = blunder.NewError(blunder.InvalidArgError, "numBlocks must be non-zero")
		return
	}

	file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		return
	}

	fileDevice = &FileDevice{
		file: file,
		fd:   int(file.Fd()),
		path: path,
		header: fileImageHeader{
			Magic:     fileImageMagic,
			Version:   fileImageVersion,
			DeviceID:  deviceID,
			BlockSize: blockSize,
			NumBlocks: numBlocks,
		},
	}

	headerBuf, err = cstruct.Pack(fileDevice.header, cstruct.LittleEndian)
	if nil != err {
		_ = file.Close()
		fileDevice = nil
		err = blunder.AddError(err, blunder.PackError)
		return
	}

	headerBlock = make([]byte, blockSize)
	copy(headerBlock, headerBuf)

	n, err = unix.Pwrite(fileDevice.fd, headerBlock, 0)
	if (nil == err) && (n != len(headerBlock)) {
		err = blunder.NewError(blunder.IOError, "short header write to %s (%d of %d bytes)", path, n, len(headerBlock))
	}
	if nil == err {
		err = unix.Ftruncate(fileDevice.fd, int64(1+numBlocks)*int64(blockSize))
	}
	if nil != err {
		_ = file.Close()
		fileDevice = nil
		if blunder.IsNot(err, blunder.IOError) {
			err = blunder.AddError(err, blunder.IOError)
		}
		return
	}

	logger.Infof("created block device image %s: deviceID %d blockSize %d numBlocks %d", path, deviceID, blockSize, numBlocks)

	err = nil
	return
}

func openFileDevice(path string) (fileDevice *FileDevice, err error) {
	var (
		file       *os.File
		headerBuf  []byte
		headerSize uint64
		n          int
		stat       unix.Stat_t
	)

	headerSize, err = fileImageHeaderSize()
	if nil != err {
		return
	}

	file, err = os.OpenFile(path, os.O_RDWR, 0)
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		return
	}

	fileDevice = &FileDevice{
		file: file,
		fd:   int(file.Fd()),
		path: path,
	}

	headerBuf = make([]byte, headerSize)

	n, err = unix.Pread(fileDevice.fd, headerBuf, 0)
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		goto Fail
	}
	if uint64(n) != headerSize {
		err = blunder.NewError(blunder.CorruptImageError, "%s too short for an image header", path)
		goto Fail
	}

	_, err = cstruct.Unpack(headerBuf, &fileDevice.header, cstruct.LittleEndian)
	if nil != err {
		err = blunder.AddError(err, blunder.UnpackError)
		goto Fail
	}

	if (fileImageMagic != fileDevice.header.Magic) || (fileImageVersion != fileDevice.header.Version) {
		err = blunder.NewError(blunder.CorruptImageError, "%s bad magic/version (0x%X/%d)", path, fileDevice.header.Magic, fileDevice.header.Version)
		goto Fail
	}
	if uint64(fileDevice.header.BlockSize) < headerSize {
		err = blunder.NewError(blunder.CorruptImageError, "%s blockSize %d too small", path, fileDevice.header.BlockSize)
		goto Fail
	}

	err = unix.Fstat(fileDevice.fd, &stat)
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		goto Fail
	}
	if uint64(stat.Size) < (1+fileDevice.header.NumBlocks)*uint64(fileDevice.header.BlockSize) {
		err = blunder.NewError(blunder.CorruptImageError, "%s truncated: %d bytes for %d blocks", path, stat.Size, fileDevice.header.NumBlocks)
		goto Fail
	}

	err = nil
	return

Fail:
	_ = file.Close()
	fileDevice = nil
	return
}

func (fileDevice *FileDevice) BlockSize() uint32 {
	return fileDevice.header.BlockSize
}

func (fileDevice *FileDevice) DeviceID() uint32 {
	return fileDevice.header.DeviceID
}

func (fileDevice *FileDevice) NumBlocks() uint64 {
	return fileDevice.header.NumBlocks
}

func (fileDevice *FileDevice) Transfer(deviceID uint32, blockNumber uint64, buf []byte, isWrite bool) (err error) {
	var (
		n      int
		offset int64
	)

	if deviceID != fileDevice.header.DeviceID {
		err = blunder.NewError(blunder.NoDeviceError, "%s holds device %d, not %d", fileDevice.path, fileDevice.header.DeviceID, deviceID)
		return
	}
	if blockNumber >= fileDevice.header.NumBlocks {
		err = blunder.NewError(blunder.OutOfRangeError, "block %d beyond device %d end (%d blocks)", blockNumber, deviceID, fileDevice.header.NumBlocks)
		return
	}
	if uint32(len(buf)) != fileDevice.header.BlockSize {
		err = blunder.NewError(blunder.InvalidArgError, "FileDevice.Transfer() buf len %d != blockSize %d", len(buf), fileDevice.header.BlockSize)
		return
	}

	offset = int64(1+blockNumber) * int64(fileDevice.header.BlockSize)

	if isWrite {
		n, err = unix.Pwrite(fileDevice.fd, buf, offset)
	} else {
		n, err = unix.Pread(fileDevice.fd, buf, offset)
	}
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		return
	}
	if n != len(buf) {
		err = blunder.NewError(blunder.IOError, "short transfer of block %d:%d (%d of %d bytes)", deviceID, blockNumber, n, len(buf))
		return
	}

	err = nil
	return
}

// Sync flushes written blocks to stable storage.
//
func (fileDevice *FileDevice) Sync() (err error) {
	err = unix.Fsync(fileDevice.fd)
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
	}
	return
}

func (fileDevice *FileDevice) Close() (err error) {
	err = fileDevice.file.Close()
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
	}
	return
}
