package progbin

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// ReadPatchList parses the h.PatchListSize bytes of patch tokens at the start
// of data. The returned parameters only carry the token-derived fields; the
// header facts are filled in by the decoder.
func ReadPatchList(data []byte, h *KernelHeader) (*KernelParameters, error) {
	return readPatchList(data, h, 0)
}

// readPatchList is ReadPatchList with an optional cap on the item count.
// Nothing is returned unless the whole list parses.
func readPatchList(data []byte, h *KernelHeader, maxItems int) (*KernelParameters, error) {
	if uint64(len(data)) < uint64(h.PatchListSize) {
		return nil, fmt.Errorf("%w: patch list needs %d bytes, have %d",
			ErrTruncated, h.PatchListSize, len(data))
	}

	p := &KernelParameters{}
	list := data[:h.PatchListSize]
	items := 0

	for off := 0; off < len(list); {
		remaining := len(list) - off
		if remaining < PatchItemHeader {
			return nil, fmt.Errorf("%w: %d bytes left at offset %d, need %d for an item header",
				ErrPatchListSize, remaining, off, PatchItemHeader)
		}

		token := binary.LittleEndian.Uint32(list[off:])
		size := binary.LittleEndian.Uint32(list[off+4:])
		if size < PatchItemHeader {
			return nil, fmt.Errorf("%w: %s item at offset %d declares size %d",
				ErrPatchListSize, TokenName(token), off, size)
		}
		if uint64(size) > uint64(remaining) {
			return nil, fmt.Errorf("%w: %s item at offset %d declares size %d, %d bytes left",
				ErrPatchListSize, TokenName(token), off, size, remaining)
		}

		items++
		if maxItems > 0 && items > maxItems {
			return nil, fmt.Errorf("%w: more than %d patch items", ErrTooLarge, maxItems)
		}

		item := list[off : off+int(size)]
		if err := p.apply(token, item); err != nil {
			return nil, err
		}
		off += int(size)
	}

	if err := sortArgumentInfos(p.KernelArgumentInfos); err != nil {
		return nil, err
	}
	return p, nil
}

// apply decodes one patch item into p. item includes the 8-byte header.
func (p *KernelParameters) apply(token uint32, item []byte) error {
	body := item[PatchItemHeader:]
	w := func(i int) uint32 { return binary.LittleEndian.Uint32(body[4*i:]) }

	switch token {
	case TokenMediaInterfaceDescriptorLoad:
		if err := checkItem(token, item, sizeMediaInterfaceDescLoad, p.MediaInterfaceDescriptorLoad != nil); err != nil {
			return err
		}
		p.MediaInterfaceDescriptorLoad = &MediaInterfaceDescriptorLoad{DataOffset: w(0)}

	case TokenInterfaceDescriptorData:
		if err := checkItem(token, item, sizeInterfaceDescriptorData, p.InterfaceDescriptorData != nil); err != nil {
			return err
		}
		p.InterfaceDescriptorData = &InterfaceDescriptorData{
			Offset:             w(0),
			SamplerStateOffset: w(1),
			KernelOffset:       w(2),
			BindingTableOffset: w(3),
		}

	case TokenBindingTableState:
		if err := checkItem(token, item, sizeBindingTableState, p.BindingTableState != nil); err != nil {
			return err
		}
		p.BindingTableState = &BindingTableState{
			Offset:             w(0),
			Count:              w(1),
			SurfaceStateOffset: w(2),
		}

	case TokenDataParameterBuffer:
		if err := checkItem(token, item, sizeDataParameterBuffer, false); err != nil {
			return err
		}
		p.DataParameterBuffers = append(p.DataParameterBuffers, DataParameterBuffer{
			Type:                w(0),
			ArgumentNumber:      w(1),
			Offset:              w(2),
			DataSize:            w(3),
			SourceOffset:        w(4),
			LocationIndex:       w(5),
			LocationIndex2:      w(6),
			IsEmulationArgument: w(7),
		})

	case TokenStatelessGlobalMemoryObjectKernelArgument:
		if err := checkItem(token, item, sizeStatelessGlobalMemoryObject, false); err != nil {
			return err
		}
		p.StatelessGlobalMemoryObjectKernelArguments = append(p.StatelessGlobalMemoryObjectKernelArguments,
			StatelessGlobalMemoryObjectKernelArgument{
				ArgumentNumber:         w(0),
				SurfaceStateHeapOffset: w(1),
				DataParamOffset:        w(2),
				DataParamSize:          w(3),
				LocationIndex:          w(4),
				LocationIndex2:         w(5),
				IsEmulationArgument:    w(6),
			})

	case TokenDataParameterStream:
		if err := checkItem(token, item, sizeDataParameterStream, p.DataParameterStream != nil); err != nil {
			return err
		}
		p.DataParameterStream = &DataParameterStream{DataParameterStreamSize: w(0)}

	case TokenThreadPayload:
		if err := checkItem(token, item, sizeThreadPayload, p.ThreadPayload != nil); err != nil {
			return err
		}
		p.ThreadPayload = &ThreadPayload{
			HeaderPresent:                  w(0),
			LocalIDXPresent:                w(1),
			LocalIDYPresent:                w(2),
			LocalIDZPresent:                w(3),
			LocalIDFlattenedPresent:        w(4),
			IndirectPayloadStorage:         w(5),
			UnusedPerThreadConstantPresent: w(6),
			GetLocalIDPresent:              w(7),
			GetGroupIDPresent:              w(8),
			GetGlobalOffsetPresent:         w(9),
			StageInGridOriginPresent:       w(10),
			StageInGridSizePresent:         w(11),
			OffsetToSkipPerThreadDataLoad:  w(12),
			OffsetToSkipSetFFIDGP:          w(13),
			PassInlineData:                 w(14),
			RTStackIDPresent:               w(15),
			GenerateLocalID:                w(16),
			EmitLocalMask:                  w(17),
			WalkOrder:                      w(18),
			TileY:                          w(19),
		}

	case TokenExecutionEnvironment:
		if err := checkItem(token, item, sizeExecutionEnvironment, p.ExecutionEnvironment != nil); err != nil {
			return err
		}
		p.ExecutionEnvironment = readExecutionEnvironment(body)

	case TokenKernelAttributesInfo:
		if err := checkVarItem(token, item, sizeKernelAttributesInfoFixed, p.KernelAttributesInfo != nil); err != nil {
			return err
		}
		n := w(0)
		if uint64(n) != uint64(len(item)-sizeKernelAttributesInfoFixed) {
			return fmt.Errorf("%w: %s attribute size %d does not fill item of %d bytes",
				ErrPatchListSize, TokenName(token), n, len(item))
		}
		p.KernelAttributesInfo = &KernelAttributesInfo{
			Attributes: cString(body[4:]),
		}

	case TokenKernelArgumentInfo:
		if err := checkVarItem(token, item, sizeKernelArgumentInfoFixed, false); err != nil {
			return err
		}
		info, err := readKernelArgumentInfo(body)
		if err != nil {
			return err
		}
		p.KernelArgumentInfos = append(p.KernelArgumentInfos, info)

	case TokenAllocateLocalSurface:
		if err := checkItem(token, item, sizeAllocateLocalSurface, p.AllocateLocalSurface != nil); err != nil {
			return err
		}
		p.AllocateLocalSurface = &AllocateLocalSurface{
			Offset:                     w(0),
			TotalInlineLocalMemorySize: w(1),
		}

	default:
		return fmt.Errorf("%w: token %d with size %d", ErrUnknownToken, token, len(item))
	}
	return nil
}

// checkItem validates a fixed-layout item's size and its at-most-one rule.
func checkItem(token uint32, item []byte, want int, seen bool) error {
	if len(item) != want {
		return fmt.Errorf("%w: %s item has size %d, want %d",
			ErrPatchListSize, TokenName(token), len(item), want)
	}
	if seen {
		return fmt.Errorf("%w: %s", ErrDuplicateToken, TokenName(token))
	}
	return nil
}

// checkVarItem is checkItem for items with a trailing variable part.
func checkVarItem(token uint32, item []byte, minSize int, seen bool) error {
	if len(item) < minSize {
		return fmt.Errorf("%w: %s item has size %d, want at least %d",
			ErrPatchListSize, TokenName(token), len(item), minSize)
	}
	if seen {
		return fmt.Errorf("%w: %s", ErrDuplicateToken, TokenName(token))
	}
	return nil
}

func readExecutionEnvironment(body []byte) *ExecutionEnvironment {
	var v [31]uint32
	for i := range v[:30] {
		v[i] = binary.LittleEndian.Uint32(body[4*i:])
	}
	simdInfo := binary.LittleEndian.Uint64(body[30*4:])
	v[30] = binary.LittleEndian.Uint32(body[30*4+8:])

	return &ExecutionEnvironment{
		RequiredWorkGroupSizeX:                     v[0],
		RequiredWorkGroupSizeY:                     v[1],
		RequiredWorkGroupSizeZ:                     v[2],
		LargestCompiledSIMDSize:                    v[3],
		CompiledSubGroupsNumber:                    v[4],
		HasBarriers:                                v[5],
		DisableMidThreadPreemption:                 v[6],
		CompiledSIMD8:                              v[7],
		CompiledSIMD16:                             v[8],
		CompiledSIMD32:                             v[9],
		HasDeviceEnqueue:                           v[10],
		MayAccessUndeclaredResource:                v[11],
		UsesFencesForReadWriteImages:               v[12],
		UsesStatelessSpillFill:                     v[13],
		UsesMultiScratchSpaces:                     v[14],
		IsCoherent:                                 v[15],
		IsInitializer:                              v[16],
		IsFinalizer:                                v[17],
		SubgroupIndependentForwardProgressRequired: v[18],
		CompiledForGreaterThan4GBBuffers:           v[19],
		NumGRFRequired:                             v[20],
		WorkgroupWalkOrderDims:                     v[21],
		HasGlobalAtomics:                           v[22],
		HasDPAS:                                    v[23],
		HasRTCalls:                                 v[24],
		NumThreadsRequired:                         v[25],
		StatelessWritesCount:                       v[26],
		IndirectStatelessCount:                     v[27],
		UseBindlessMode:                            v[28],
		HasStackCalls:                              v[29],
		SIMDInfo:                                   simdInfo,
		RequireDisableEUFusion:                     v[30],
	}
}

// readKernelArgumentInfo decodes the argument number, the five string sizes
// and the strings that follow them.
func readKernelArgumentInfo(body []byte) (KernelArgumentInfo, error) {
	var sizes [5]uint64
	var total uint64
	for i := range sizes {
		sizes[i] = uint64(binary.LittleEndian.Uint32(body[4+4*i:]))
		total += sizes[i]
	}

	strs := body[4+4*len(sizes):]
	if total != uint64(len(strs)) {
		return KernelArgumentInfo{}, fmt.Errorf("%w: %s strings total %d bytes, item holds %d",
			ErrPatchListSize, TokenName(TokenKernelArgumentInfo), total, len(strs))
	}

	var fields [5]string
	for i, n := range sizes {
		fields[i] = cString(strs[:n])
		strs = strs[n:]
	}

	return KernelArgumentInfo{
		ArgumentNumber:   binary.LittleEndian.Uint32(body),
		AddressQualifier: fields[0],
		AccessQualifier:  fields[1],
		ArgumentName:     fields[2],
		TypeName:         fields[3],
		TypeQualifier:    fields[4],
	}, nil
}

// sortArgumentInfos orders infos by argument number and requires the numbers
// to be exactly 0..n-1.
func sortArgumentInfos(infos []KernelArgumentInfo) error {
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].ArgumentNumber < infos[j].ArgumentNumber
	})
	for i := range infos {
		if infos[i].ArgumentNumber != uint32(i) {
			return fmt.Errorf("%w: argument info numbers are not 0..%d (found %d at position %d)",
				ErrFormat, len(infos)-1, infos[i].ArgumentNumber, i)
		}
	}
	return nil
}
