package vncauth

// pc1 selects the 56 key bits (parity bits dropped) in bit order, MSB of
// key[0] first.
var pc1 = [56]uint8{
	56, 48, 40, 32, 24, 16, 8, 0, 57, 49, 41, 33, 25, 17,
	9, 1, 58, 50, 42, 34, 26, 18, 10, 2, 59, 51, 43, 35,
	62, 54, 46, 38, 30, 22, 14, 6, 61, 53, 45, 37, 29, 21,
	13, 5, 60, 52, 44, 36, 28, 20, 12, 4, 27, 19, 11, 3,
}

// pc2 selects the 48 round-key bits from the rotated 56-bit register.
var pc2 = [48]uint8{
	13, 16, 10, 23, 0, 4, 2, 27, 14, 5, 20, 9, 22, 18, 11, 3,
	25, 7, 15, 6, 26, 19, 12, 1, 40, 51, 30, 36, 46, 54, 29, 39,
	50, 44, 32, 47, 43, 48, 38, 55, 33, 52, 45, 41, 49, 35, 28, 31,
}

// totalRotations is the cumulative left rotation of both 28-bit halves
// before each round.
var totalRotations = [16]uint8{1, 2, 4, 6, 8, 10, 12, 14, 15, 17, 19, 21, 23, 25, 27, 28}

// spBoxes are the eight S-boxes with the P permutation folded in. Index i
// holds SP(i+1); each maps a 6-bit input to the permuted 32-bit output.
var spBoxes = [8][64]uint32{
	{
		0x01010400, 0x00000000, 0x00010000, 0x01010404, 0x01010004, 0x00010404,
		0x00000004, 0x00010000, 0x00000400, 0x01010400, 0x01010404, 0x00000400,
		0x01000404, 0x01010004, 0x01000000, 0x00000004, 0x00000404, 0x01000400,
		0x01000400, 0x00010400, 0x00010400, 0x01010000, 0x01010000, 0x01000404,
		0x00010004, 0x01000004, 0x01000004, 0x00010004, 0x00000000, 0x00000404,
		0x00010404, 0x01000000, 0x00010000, 0x01010404, 0x00000004, 0x01010000,
		0x01010400, 0x01000000, 0x01000000, 0x00000400, 0x01010004, 0x00010000,
		0x00010400, 0x01000004, 0x00000400, 0x00000004, 0x01000404, 0x00010404,
		0x01010404, 0x00010004, 0x01010000, 0x01000404, 0x01000004, 0x00000404,
		0x00010404, 0x01010400, 0x00000404, 0x01000400, 0x01000400, 0x00000000,
		0x00010004, 0x00010400, 0x00000000, 0x01010004,
	},
	{
		0x80108020, 0x80008000, 0x00008000, 0x00108020, 0x00100000, 0x00000020,
		0x80100020, 0x80008020, 0x80000020, 0x80108020, 0x80108000, 0x80000000,
		0x80008000, 0x00100000, 0x00000020, 0x80100020, 0x00108000, 0x00100020,
		0x80008020, 0x00000000, 0x80000000, 0x00008000, 0x00108020, 0x80100000,
		0x00100020, 0x80000020, 0x00000000, 0x00108000, 0x00008020, 0x80108000,
		0x80100000, 0x00008020, 0x00000000, 0x00108020, 0x80100020, 0x00100000,
		0x80008020, 0x80100000, 0x80108000, 0x00008000, 0x80100000, 0x80008000,
		0x00000020, 0x80108020, 0x00108020, 0x00000020, 0x00008000, 0x80000000,
		0x00008020, 0x80108000, 0x00100000, 0x80000020, 0x00100020, 0x80008020,
		0x80000020, 0x00100020, 0x00108000, 0x00000000, 0x80008000, 0x00008020,
		0x80000000, 0x80100020, 0x80108020, 0x00108000,
	},
	{
		0x00000208, 0x08020200, 0x00000000, 0x08020008, 0x08000200, 0x00000000,
		0x00020208, 0x08000200, 0x00020008, 0x08000008, 0x08000008, 0x00020000,
		0x08020208, 0x00020008, 0x08020000, 0x00000208, 0x08000000, 0x00000008,
		0x08020200, 0x00000200, 0x00020200, 0x08020000, 0x08020008, 0x00020208,
		0x08000208, 0x00020200, 0x00020000, 0x08000208, 0x00000008, 0x08020208,
		0x00000200, 0x08000000, 0x08020200, 0x08000000, 0x00020008, 0x00000208,
		0x00020000, 0x08020200, 0x08000200, 0x00000000, 0x00000200, 0x00020008,
		0x08020208, 0x08000200, 0x08000008, 0x00000200, 0x00000000, 0x08020008,
		0x08000208, 0x00020000, 0x08000000, 0x08020208, 0x00000008, 0x00020208,
		0x00020200, 0x08000008, 0x08020000, 0x08000208, 0x00000208, 0x08020000,
		0x00020208, 0x00000008, 0x08020008, 0x00020200,
	},
	{
		0x00802001, 0x00002081, 0x00002081, 0x00000080, 0x00802080, 0x00800081,
		0x00800001, 0x00002001, 0x00000000, 0x00802000, 0x00802000, 0x00802081,
		0x00000081, 0x00000000, 0x00800080, 0x00800001, 0x00000001, 0x00002000,
		0x00800000, 0x00802001, 0x00000080, 0x00800000, 0x00002001, 0x00002080,
		0x00800081, 0x00000001, 0x00002080, 0x00800080, 0x00002000, 0x00802080,
		0x00802081, 0x00000081, 0x00800080, 0x00800001, 0x00802000, 0x00802081,
		0x00000081, 0x00000000, 0x00000000, 0x00802000, 0x00002080, 0x00800080,
		0x00800081, 0x00000001, 0x00802001, 0x00002081, 0x00002081, 0x00000080,
		0x00802081, 0x00000081, 0x00000001, 0x00002000, 0x00800001, 0x00002001,
		0x00802080, 0x00800081, 0x00002001, 0x00002080, 0x00800000, 0x00802001,
		0x00000080, 0x00800000, 0x00002000, 0x00802080,
	},
	{
		0x00000100, 0x02080100, 0x02080000, 0x42000100, 0x00080000, 0x00000100,
		0x40000000, 0x02080000, 0x40080100, 0x00080000, 0x02000100, 0x40080100,
		0x42000100, 0x42080000, 0x00080100, 0x40000000, 0x02000000, 0x40080000,
		0x40080000, 0x00000000, 0x40000100, 0x42080100, 0x42080100, 0x02000100,
		0x42080000, 0x40000100, 0x00000000, 0x42000000, 0x02080100, 0x02000000,
		0x42000000, 0x00080100, 0x00080000, 0x42000100, 0x00000100, 0x02000000,
		0x40000000, 0x02080000, 0x42000100, 0x40080100, 0x02000100, 0x40000000,
		0x42080000, 0x02080100, 0x40080100, 0x00000100, 0x02000000, 0x42080000,
		0x42080100, 0x00080100, 0x42000000, 0x42080100, 0x02080000, 0x00000000,
		0x40080000, 0x42000000, 0x00080100, 0x02000100, 0x40000100, 0x00080000,
		0x00000000, 0x40080000, 0x02080100, 0x40000100,
	},
	{
		0x20000010, 0x20400000, 0x00004000, 0x20404010, 0x20400000, 0x00000010,
		0x20404010, 0x00400000, 0x20004000, 0x00404010, 0x00400000, 0x20000010,
		0x00400010, 0x20004000, 0x20000000, 0x00004010, 0x00000000, 0x00400010,
		0x20004010, 0x00004000, 0x00404000, 0x20004010, 0x00000010, 0x20400010,
		0x20400010, 0x00000000, 0x00404010, 0x20404000, 0x00004010, 0x00404000,
		0x20404000, 0x20000000, 0x20004000, 0x00000010, 0x20400010, 0x00404000,
		0x20404010, 0x00400000, 0x00004010, 0x20000010, 0x00400000, 0x20004000,
		0x20000000, 0x00004010, 0x20000010, 0x20404010, 0x00404000, 0x20400000,
		0x00404010, 0x20404000, 0x00000000, 0x20400010, 0x00000010, 0x00004000,
		0x20400000, 0x00404010, 0x00004000, 0x00400010, 0x20004010, 0x00000000,
		0x20404000, 0x20000000, 0x00400010, 0x20004010,
	},
	{
		0x00200000, 0x04200002, 0x04000802, 0x00000000, 0x00000800, 0x04000802,
		0x00200802, 0x04200800, 0x04200802, 0x00200000, 0x00000000, 0x04000002,
		0x00000002, 0x04000000, 0x04200002, 0x00000802, 0x04000800, 0x00200802,
		0x00200002, 0x04000800, 0x04000002, 0x04200000, 0x04200800, 0x00200002,
		0x04200000, 0x00000800, 0x00000802, 0x04200802, 0x00200800, 0x00000002,
		0x04000000, 0x00200800, 0x04000000, 0x00200800, 0x00200000, 0x04000802,
		0x04000802, 0x04200002, 0x04200002, 0x00000002, 0x00200002, 0x04000000,
		0x04000800, 0x00200000, 0x04200800, 0x00000802, 0x00200802, 0x04200800,
		0x00000802, 0x04000002, 0x04200802, 0x04200000, 0x00200800, 0x00000000,
		0x00000002, 0x04200802, 0x00000000, 0x00200802, 0x04200000, 0x00000800,
		0x04000002, 0x04000800, 0x00000800, 0x00200002,
	},
	{
		0x10001040, 0x00001000, 0x00040000, 0x10041040, 0x10000000, 0x10001040,
		0x00000040, 0x10000000, 0x00040040, 0x10040000, 0x10041040, 0x00041000,
		0x10041000, 0x00041040, 0x00001000, 0x00000040, 0x10040000, 0x10000040,
		0x10001000, 0x00001040, 0x00041000, 0x00040040, 0x10040040, 0x10041000,
		0x00001040, 0x00000000, 0x00000000, 0x10040040, 0x10000040, 0x10001000,
		0x00041040, 0x00040000, 0x00041040, 0x00040000, 0x10041000, 0x00001000,
		0x00000040, 0x10040040, 0x00001000, 0x00041040, 0x10001000, 0x00000040,
		0x10000040, 0x10040000, 0x10040040, 0x10000000, 0x00040000, 0x10001040,
		0x00000000, 0x10041040, 0x00040040, 0x10000040, 0x10040000, 0x10001000,
		0x10001040, 0x00000000, 0x10041040, 0x00041000, 0x00041000, 0x00001040,
		0x00001040, 0x00040040, 0x10000000, 0x10041000,
	},
}

